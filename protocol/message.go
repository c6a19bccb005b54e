package protocol

// Kind 消息种类（线上 type 字段）
type Kind string

const (
	KindMove     Kind = "MOVE"
	KindFire     Kind = "FIRE"
	KindGameOver Kind = "GAME_OVER"
	KindAck      Kind = "ACK"
)

// Message 封闭的消息联合：Move | Fire | GameOver | Ack
// 只有本包内的类型可以实现它，调用方用 type switch 穷举处理
type Message interface {
	Kind() Kind
	Sequence() uint64
	sealed()
}

// Move 本地玩家位置，坐标按场地宽高归一化到 [0,1]
type Move struct {
	X, Y float32
	Seq  uint64
}

// Fire 开火事件
type Fire struct {
	Seq uint64
}

// GameOver 发送方被击中，接收方获胜
type GameOver struct {
	Seq uint64
}

// Ack 确认收到某个 GameOver（Seq 为被确认的序列号）
type Ack struct {
	Seq uint64
}

func (Move) Kind() Kind     { return KindMove }
func (Fire) Kind() Kind     { return KindFire }
func (GameOver) Kind() Kind { return KindGameOver }
func (Ack) Kind() Kind      { return KindAck }

func (m Move) Sequence() uint64     { return m.Seq }
func (m Fire) Sequence() uint64     { return m.Seq }
func (m GameOver) Sequence() uint64 { return m.Seq }
func (m Ack) Sequence() uint64      { return m.Seq }

func (Move) sealed()     {}
func (Fire) sealed()     {}
func (GameOver) sealed() {}
func (Ack) sealed()      {}

// Sequencer 按消息种类分配单调递增序列号（从 1 开始，0 表示“未携带”）
type Sequencer struct {
	next map[Kind]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[Kind]uint64)}
}

// Next 返回该种类的下一个序列号
func (s *Sequencer) Next(k Kind) uint64 {
	s.next[k]++
	return s.next[k]
}
