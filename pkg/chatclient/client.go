// Package chatclient - клиентский транспорт чата: подключение,
// heartbeat, переподключение с экспоненциальной задержкой и доставка
// входящих сообщений без дублей.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"scene_chat/pkg/protocol"
)

// State - состояние соединения, публикуется в States()
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	// ErrNotConnected возвращается из Send без обращения к сети
	ErrNotConnected = errors.New("chatclient: not connected")
	ErrClosed       = errors.New("chatclient: client closed")
)

// RateLimitError - локальный отказ до отправки на сервер. Клиент знает
// серверные лимиты и не тратит окно на заведомо лишние запросы;
// авторитетным остается серверный лимитер.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("chatclient: rate limited, retry after %s", e.RetryAfter)
}

// Conn - абстракция соединения, в тестах подменяется фейком
type Conn interface {
	ReadEnvelope() (*protocol.Envelope, error)
	WriteEnvelope(env *protocol.Envelope) error
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// Clock отделяет время от логики ради детерминированных тестов
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config повторяет серверные значения; расхождение приведет к тому,
// что локальные отказы не совпадут с серверными.
type Config struct {
	URL   string
	Token string

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int

	HeartbeatInterval time.Duration

	// Локальное отображение лимита; 0 отключает локальную проверку
	RateWindow time.Duration
	RateLimit  int
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	return cfg
}

// Client ведет одно логическое соединение. Жизненный цикл:
// Connecting -> Connected -> (обрыв) -> Reconnecting -> Connected ...
// После MaxAttempts неудачных попыток подряд - Disconnected навсегда,
// дальше только новый клиент.
type Client struct {
	cfg    Config
	dialer Dialer
	clock  Clock

	messages chan *protocol.Message
	states   chan State
	done     chan struct{}

	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	conn      Conn
	writeMu   sync.Mutex
	scenes    map[uuid.UUID]bool
	lastSeq   map[uuid.UUID]int64
	sendTimes []time.Time
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithClock(clk Clock) Option {
	return func(c *Client) { c.clock = clk }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg.withDefaults(),
		dialer:   &wsDialer{token: cfg.Token},
		clock:    systemClock{},
		messages: make(chan *protocol.Message, 64),
		states:   make(chan State, 16),
		done:     make(chan struct{}),
		state:    StateDisconnected,
		scenes:   make(map[uuid.UUID]bool),
		lastSeq:  make(map[uuid.UUID]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages - входящие сообщения, уже очищенные от дублей
func (c *Client) Messages() <-chan *protocol.Message { return c.messages }

// States - переходы состояния соединения
func (c *Client) States() <-chan State { return c.states }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run блокируется до закрытия клиента или исчерпания попыток
// переподключения. Запускается в отдельной горутине вызывающего.
// Каждая попытка набора проходит через Connecting; Reconnecting
// покрывает только ожидание перед следующей попыткой.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0

	for {
		c.setState(StateConnecting)

		conn, err := c.dialer.DialContext(ctx, c.cfg.URL)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				c.setState(StateDisconnected)
				return fmt.Errorf("chatclient: gave up after %d attempts: %w", attempt, err)
			}
			c.setState(StateReconnecting)
			if !c.wait(ctx, c.backoff(attempt-1)) {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			continue
		}

		attempt = 0
		c.attach(conn)
		c.setState(StateConnected)
		c.resubscribe()

		serveErr := c.serve(ctx, conn)
		c.detach()

		if errors.Is(serveErr, ErrClosed) || ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}

		// Обрыв: уходим на новый круг, задержка перед следующим набором
		attempt++
		if attempt >= c.cfg.MaxAttempts {
			c.setState(StateDisconnected)
			return fmt.Errorf("chatclient: gave up after %d attempts: %w", attempt, serveErr)
		}
		c.setState(StateReconnecting)
		if !c.wait(ctx, c.backoff(attempt-1)) {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
	}
}

// Close завершает клиент; Run вернется без ошибки
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

// Subscribe запоминает сцену и подписывается, если соединение живо.
// После переподключения все запомненные сцены подписываются заново.
func (c *Client) Subscribe(sceneID uuid.UUID) error {
	c.mu.Lock()
	c.scenes[sceneID] = true
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	return c.write(conn, &protocol.Envelope{Type: protocol.TypeSubscribe, SceneID: &sceneID})
}

func (c *Client) Unsubscribe(sceneID uuid.UUID) error {
	c.mu.Lock()
	delete(c.scenes, sceneID)
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	return c.write(conn, &protocol.Envelope{Type: protocol.TypeUnsubscribe, SceneID: &sceneID})
}

// Send отправляет сообщение. Вне состояния Connected отказ локальный
// и мгновенный, без сетевого вызова и без очереди на потом.
func (c *Client) Send(sceneID uuid.UUID, msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	if retryAfter, limited := c.locallyLimited(); limited {
		return &RateLimitError{RetryAfter: retryAfter}
	}

	return c.write(conn, &protocol.Envelope{
		Type:    protocol.TypeChatMessage,
		SceneID: &sceneID,
		Message: msg,
	})
}

// serve читает кадры и гоняет heartbeat до первого сбоя
func (c *Client) serve(ctx context.Context, conn Conn) error {
	readErr := make(chan error, 1)
	frames := make(chan *protocol.Envelope)

	go func() {
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- env:
			case <-c.done:
				return
			}
		}
	}()

	heartbeat := c.clock.After(c.cfg.HeartbeatInterval)
	awaitingPong := false

	for {
		select {
		case env := <-frames:
			if env.Type == protocol.TypeHeartbeat {
				awaitingPong = false
				continue
			}
			c.deliver(env)
		case err := <-readErr:
			return err
		case <-heartbeat:
			// Прошлый heartbeat остался без ответа - соединение мертво
			if awaitingPong {
				conn.Close()
				return errors.New("chatclient: heartbeat timeout")
			}
			if err := c.write(conn, &protocol.Envelope{Type: protocol.TypeHeartbeat}); err != nil {
				return err
			}
			awaitingPong = true
			heartbeat = c.clock.After(c.cfg.HeartbeatInterval)
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-c.done:
			conn.Close()
			return ErrClosed
		}
	}
}

// deliver отбрасывает дубли по sequence и отдает сообщение потребителю.
// Повторная доставка возможна после переподключения, когда сервер и
// история перекрываются.
func (c *Client) deliver(env *protocol.Envelope) {
	if env.Type != protocol.TypeChatMessage || env.Message == nil {
		return
	}
	msg := env.Message

	c.mu.Lock()
	if msg.Sequence > 0 && msg.Sequence <= c.lastSeq[msg.SceneID] {
		c.mu.Unlock()
		return
	}
	if msg.Sequence > 0 {
		c.lastSeq[msg.SceneID] = msg.Sequence
	}
	c.mu.Unlock()

	select {
	case c.messages <- msg:
	case <-c.done:
	}
}

// resubscribe восстанавливает подписки после переподключения.
// Неудачная запись означает мертвое соединение: закрываем его,
// чтобы цикл чтения завершился и запустил следующую попытку, -
// молча остаться без подписки нельзя.
func (c *Client) resubscribe() {
	c.mu.Lock()
	conn := c.conn
	scenes := make([]uuid.UUID, 0, len(c.scenes))
	for id := range c.scenes {
		scenes = append(scenes, id)
	}
	c.mu.Unlock()

	for _, id := range scenes {
		sceneID := id
		if err := c.write(conn, &protocol.Envelope{Type: protocol.TypeSubscribe, SceneID: &sceneID}); err != nil {
			conn.Close()
			return
		}
	}
}

func (c *Client) write(conn Conn, env *protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteEnvelope(env)
}

// locallyLimited повторяет серверное скользящее окно на стороне клиента
func (c *Client) locallyLimited() (time.Duration, bool) {
	if c.cfg.RateLimit <= 0 || c.cfg.RateWindow <= 0 {
		return 0, false
	}

	now := c.clock.Now()
	cutoff := now.Add(-c.cfg.RateWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.sendTimes[:0]
	for _, ts := range c.sendTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.sendTimes = kept

	if len(c.sendTimes) >= c.cfg.RateLimit {
		return c.cfg.RateWindow - now.Sub(c.sendTimes[0]), true
	}
	c.sendTimes = append(c.sendTimes, now)
	return 0, false
}

// backoff: base * 2^attempt с потолком ReconnectMax
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.ReconnectMax {
			return c.cfg.ReconnectMax
		}
	}
	if d > c.cfg.ReconnectMax {
		d = c.cfg.ReconnectMax
	}
	return d
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-c.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	select {
	case c.states <- s:
	default:
		// Потребитель отстал - состояние можно узнать через State()
	}
}
