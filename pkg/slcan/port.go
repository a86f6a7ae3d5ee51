package slcan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/roffe/xlcan"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPortBaudrate   = 115200
	DefaultReplyTimeout   = 500 * time.Millisecond
	DefaultStatusInterval = 2 * time.Second
)

var (
	ErrTimeout = errors.New("timeout waiting for adapter reply")
	ErrClosed  = errors.New("port closed")
)

// Config describes a serial SLCAN adapter.
type Config struct {
	Port         string
	PortBaudrate int
	Timing       xlcan.BitTiming
	// ExplicitTiming loads the segments of Timing through the sxxyy command
	// even when the bitrate has a standard Sn command.
	ExplicitTiming bool
	// StatusInterval is how often the F command polls the controller state,
	// negative disables polling.
	StatusInterval time.Duration
	ReplyTimeout   time.Duration
	Debug          bool
}

// Port is an open SLCAN adapter.
type Port struct {
	cfg Config
	rw  io.ReadWriteCloser

	cmdMu   sync.Mutex
	replies chan reply

	recv    chan *xlcan.Frame
	recvErr error // why recv was closed, set before the close
	events  chan xlcan.Event

	version Version

	cancel    context.CancelFunc
	group     *errgroup.Group
	closed    chan struct{}
	closeOnce sync.Once
}

type reply struct {
	line string
	err  error
}

// Open opens the serial device, configures the bitrate and opens the CAN channel.
func Open(ctx context.Context, cfg Config) (*Port, error) {
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = DefaultPortBaudrate
	}
	mode := &serial.Mode{
		BaudRate: cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %w", cfg.Port, err)
	}
	if err := sp.SetReadTimeout(5 * time.Millisecond); err != nil {
		sp.Close()
		return nil, err
	}
	sp.ResetOutputBuffer()
	sp.ResetInputBuffer()
	return New(ctx, sp, cfg)
}

// New runs the SLCAN protocol over an already open stream.
func New(ctx context.Context, rw io.ReadWriteCloser, cfg Config) (*Port, error) {
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.Timing.Bitrate == 0 {
		cfg.Timing.Bitrate = xlcan.DefaultBitrate
	}
	rate, err := BitrateCommand(cfg.Timing, cfg.ExplicitTiming)
	if err != nil {
		rw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	p := &Port{
		cfg:     cfg,
		rw:      rw,
		replies: make(chan reply, 8),
		recv:    make(chan *xlcan.Frame, 1024),
		events:  make(chan xlcan.Event, 100),
		cancel:  cancel,
		group:   group,
		closed:  make(chan struct{}),
	}
	group.Go(func() error {
		return p.recvManager(gctx)
	})

	if err := p.init(gctx, rate); err != nil {
		p.shutdown()
		return nil, err
	}

	if cfg.StatusInterval > 0 {
		group.Go(func() error {
			return p.statusManager(gctx)
		})
	}
	return p, nil
}

func (p *Port) init(ctx context.Context, rate string) error {
	// closing an already closed channel answers BELL
	p.Command(ctx, "C")
	if line, err := p.Command(ctx, "V"); err == nil {
		if v, err := ParseVersion([]byte(line)); err == nil {
			p.version = v
			p.debugf("adapter %s", v)
		}
	}
	if _, err := p.Command(ctx, rate); err != nil {
		return fmt.Errorf("failed to set bitrate %s: %w", rate, err)
	}
	if _, err := p.Command(ctx, "O"); err != nil {
		return fmt.Errorf("failed to open CAN channel: %w", err)
	}
	return nil
}

// Version is the adapter version, zero if it did not answer V.
func (p *Port) Version() Version {
	return p.version
}

// Recv returns the channel received frames are delivered on. It is closed
// when the port is closed or reading the serial port fails.
func (p *Port) Recv() <-chan *xlcan.Frame {
	return p.recv
}

// Err returns the read error that closed Recv, nil after a regular Close.
// Only valid once Recv is closed.
func (p *Port) Err() error {
	return p.recvErr
}

// Events returns the channel non fatal conditions are reported on.
func (p *Port) Events() <-chan xlcan.Event {
	return p.events
}

// Command sends cmd and waits for the adapter's reply line.
func (p *Port) Command(ctx context.Context, cmd string) (string, error) {
	return p.exchange(ctx, append([]byte(cmd), '\r'))
}

// Send transmits f and waits for the adapter to acknowledge it.
func (p *Port) Send(ctx context.Context, f *xlcan.Frame) error {
	out, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	line, err := p.exchange(ctx, out)
	if err != nil {
		return err
	}
	if line != "z" && line != "Z" {
		return fmt.Errorf("unexpected transmit reply %q", line)
	}
	return nil
}

func (p *Port) exchange(ctx context.Context, out []byte) (string, error) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()
	select {
	case <-p.closed:
		return "", ErrClosed
	default:
	}
	// drop replies whose command already timed out
	for len(p.replies) > 0 {
		<-p.replies
	}
	if p.cfg.Debug {
		log.Printf(">> %q", out)
	}
	if _, err := p.rw.Write(out); err != nil {
		return "", xlcan.Unrecoverable(fmt.Errorf("failed to write to com port: %w", err))
	}
	t := time.NewTimer(p.cfg.ReplyTimeout)
	defer t.Stop()
	select {
	case r := <-p.replies:
		return r.line, r.err
	case <-t.C:
		return "", fmt.Errorf("%w: %q", ErrTimeout, out)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.closed:
		return "", ErrClosed
	}
}

func (p *Port) recvManager(ctx context.Context) error {
	defer close(p.recv)
	buf := make([]byte, 0, 256)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := p.rw.Read(readBuf)
		if err != nil {
			if p.isClosed() {
				return nil
			}
			p.emit(xlcan.EventTypeError, "failed to read com port: %v", err)
			p.recvErr = fmt.Errorf("failed to read com port: %w", err)
			return p.recvErr
		}
		if n == 0 {
			continue
		}
		buf = p.parse(buf, readBuf[:n])
	}
	return nil
}

// parse processes the read data and returns any remaining partial line.
func (p *Port) parse(buf, data []byte) []byte {
	for _, b := range data {
		switch b {
		case '\a':
			p.reply(reply{err: ErrCommand})
			buf = buf[:0]
		case '\r':
			p.handleLine(buf)
			buf = buf[:0]
		case '\n':
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func (p *Port) handleLine(line []byte) {
	if p.cfg.Debug {
		log.Printf("<< %q", line)
	}
	if !IsFrame(line) {
		p.reply(reply{line: string(line)})
		return
	}
	f, err := DecodeFrame(line)
	if err != nil {
		p.emit(xlcan.EventTypeError, "%v", err)
		return
	}
	f.Timestamp = xlcan.MonotonicTime()
	select {
	case p.recv <- f:
	default:
		p.emit(xlcan.EventTypeError, "dropped frame %s", f)
	}
}

func (p *Port) reply(r reply) {
	select {
	case p.replies <- r:
	default:
		p.emit(xlcan.EventTypeWarning, "unsolicited reply %q", r.line)
	}
}

func (p *Port) statusManager(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return nil
		case <-ticker.C:
			line, err := p.Command(ctx, "F")
			if err != nil {
				if !xlcan.IsRecoverable(err) {
					return err
				}
				p.emit(xlcan.EventTypeWarning, "status: %v", err)
				continue
			}
			st, err := ParseStatus([]byte(line))
			if err != nil {
				p.emit(xlcan.EventTypeWarning, "status: %v", err)
				continue
			}
			if st != 0 {
				p.emit(xlcan.EventTypeError, "CAN status error: %v", st.Err())
			}
		}
	}
}

func (p *Port) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Port) emit(t xlcan.EventType, format string, a ...interface{}) {
	e := xlcan.NewEvent("slcan", t, format, a...)
	if p.cfg.Debug {
		log.Println(e)
	}
	select {
	case p.events <- e:
	default:
	}
}

func (p *Port) debugf(format string, a ...interface{}) {
	if p.cfg.Debug {
		log.Printf(format, a...)
	}
}

// Close closes the CAN channel and the serial port.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReplyTimeout)
		defer cancel()
		if _, cerr := p.Command(ctx, "C"); cerr != nil {
			p.debugf("close channel: %v", cerr)
		}
		err = p.shutdown()
	})
	return err
}

func (p *Port) shutdown() error {
	close(p.closed)
	p.cancel()
	err := p.rw.Close()
	if werr := p.group.Wait(); werr != nil {
		err = errors.Join(err, werr)
	}
	return err
}
