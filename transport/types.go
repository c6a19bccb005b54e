package transport

import (
	"errors"
	"fmt"
)

var (
	ErrStopped        = errors.New("transport session stopped")
	ErrAlreadyStarted = errors.New("transport session already started")
)

// Role 本机在会话中的角色，大厅选定后不可更改
type Role int

const (
	RoleNone Role = iota
	RoleHost      // 广播服务，等待对端连接
	RoleClient    // 扫描广播并主动连接
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// ParseRole 解析 "host" / "client"
func ParseRole(s string) (Role, error) {
	switch s {
	case "host", "advertiser":
		return RoleHost, nil
	case "client", "scanner":
		return RoleClient, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q (want host or client)", s)
	}
}

// Status 连接状态，只由传输事件修改
type Status int

const (
	StatusSearching Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusSearching:
		return "searching"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Event 推送给订阅者的传输事件：Connected | Disconnected | Data | Failed
type Event interface {
	event()
}

// Connected 链路建立
type Connected struct {
	PeerID   string
	PeerName string
}

// Disconnected 链路断开；不会自动重连
type Disconnected struct{}

// Data 收到一条字符串载荷
type Data struct {
	Payload string
}

// Failed 启动阶段的权限/硬件/网络错误，只报告一次，不重试
type Failed struct {
	Err error
}

func (Connected) event()    {}
func (Disconnected) event() {}
func (Data) event()         {}
func (Failed) event()       {}
