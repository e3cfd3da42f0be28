// Package session is the client orchestrator. A Session owns every resource
// of one client session (devices, the brain channel, audio output, scan loop
// and caches) and runs all of its handlers on a single event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/bridge/internal/audio"
	"github.com/xiaot623/gogo/bridge/internal/capture"
	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	"github.com/xiaot623/gogo/bridge/internal/media"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/playback"
	"github.com/xiaot623/gogo/bridge/internal/policy"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
	"github.com/xiaot623/gogo/bridge/internal/store"
	"github.com/xiaot623/gogo/bridge/internal/transport"
)

var (
	ErrNotStarted        = errors.New("session not started")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrNoCamera          = errors.New("Camera is not available.")
	ErrAlreadyIdentified = errors.New("You are already signed in.")
)

// Channel is the brain connection as the session uses it.
type Channel interface {
	IsOpen() bool
	Send(msg protocol.Outbound) error
	SendBinary(data []byte) error
	Close() error
}

// Dialer connects to the brain. h receives the connection's traffic.
type Dialer func(ctx context.Context, endpoint string, h transport.Handler) (Channel, error)

// TransportDialer dials with the websocket transport.
func TransportDialer(opts transport.Options) Dialer {
	return func(ctx context.Context, endpoint string, h transport.Handler) (Channel, error) {
		ch, err := transport.Dial(ctx, endpoint, h, opts)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// Options configures a Session.
type Options struct {
	BrainURL          string
	Scan              capture.Options
	PlaybackHighWater int
	VisualizerFPS     int
	// StreamVoice forwards captured microphone PCM to the brain.
	StreamVoice bool
}

// Deps are the collaborators of a Session.
type Deps struct {
	Loop      eventloop.Scheduler
	Devices   media.Devices
	Dial      Dialer
	NewOutput func() (audio.Output, error)
	Decoder   audio.Decoder
	Analyser  *audio.Analyser
	Store     store.Store
	Policy    *policy.Engine
	Metrics   *metrics.Metrics
	Sink      EventSink

	// Go runs blocking work off the loop. Defaults to a new goroutine.
	Go  func(fn func())
	Now func() time.Time
}

// Capabilities lists the devices that opened.
type Capabilities struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"microphone"`
	Audio      bool `json:"audio"`
}

// Session is the orchestrator. Every method must be called on the loop.
type Session struct {
	opts     Options
	loop     eventloop.Scheduler
	devices  media.Devices
	dial     Dialer
	newOut   func() (audio.Output, error)
	decoder  audio.Decoder
	analyser *audio.Analyser
	store    store.Store
	policy   *policy.Engine
	metrics  *metrics.Metrics
	sink     EventSink
	goFn     func(fn func())
	now      func() time.Time

	ctx     context.Context
	id      string
	gen     uint64
	started bool
	state   State
	caps    Capabilities

	channel       Channel
	camera        media.VideoSource
	mic           media.Microphone
	output        audio.Output
	queue         *playback.Queue
	scan          *capture.Loop
	visualizer    eventloop.Timer
	cancelDevices context.CancelFunc
	lastLevel     float64
}

// New creates a session that waits for Start.
func New(opts Options, deps Deps) *Session {
	if deps.Go == nil {
		deps.Go = func(fn func()) { go fn() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sink == nil {
		deps.Sink = SinkFunc(func(Event) {})
	}
	if deps.Decoder == nil {
		deps.Decoder = audio.WAVDecoder{}
	}
	if deps.Analyser == nil {
		deps.Analyser = audio.NewAnalyser()
	}
	if opts.VisualizerFPS <= 0 {
		opts.VisualizerFPS = 30
	}

	s := &Session{
		opts:     opts,
		loop:     deps.Loop,
		devices:  deps.Devices,
		dial:     deps.Dial,
		newOut:   deps.NewOutput,
		decoder:  deps.Decoder,
		analyser: deps.Analyser,
		store:    deps.Store,
		policy:   deps.Policy,
		metrics:  deps.Metrics,
		sink:     deps.Sink,
		goFn:     deps.Go,
		now:      deps.Now,
		ctx:      context.Background(),
	}
	s.queue = playback.NewQueue(deps.Loop, nil, opts.PlaybackHighWater, deps.Metrics)
	scanOpts := opts.Scan
	scanOpts.Go = deps.Go
	s.scan = capture.New(deps.Loop, scanListener{s}, deps.Metrics, scanOpts)
	return s
}

// Start handles the user gesture: it opens the devices, connects to the
// brain and begins the identity scan. Devices and the connection are
// opened off the loop.
func (s *Session) Start() error {
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.gen++
	gen := s.gen
	s.id = "sess_" + uuid.New().String()[:8]
	s.state = State{Phase: PhaseAnonymous}
	s.caps = Capabilities{}
	s.lastLevel = 0

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDevices = cancel

	frame := time.Second / time.Duration(s.opts.VisualizerFPS)
	s.visualizer = s.loop.Every(frame, s.animate)

	log.Printf("[session] starting session %s", s.id)
	s.publishState()

	h := &connHandler{s: s, gen: gen, ready: make(chan struct{})}
	s.goFn(func() {
		opened := s.openDevices(ctx)
		s.loop.Post(func() { s.devicesOpened(gen, opened) })

		var ch Channel
		err := errors.New("no dialer configured")
		if s.dial != nil {
			ch, err = s.dial(ctx, s.opts.BrainURL, h)
		}
		s.loop.Post(func() { s.connected(gen, ch, err) })
		close(h.ready)
	})
	return nil
}

type openedDevices struct {
	output    audio.Output
	outputErr error
	camera    media.VideoSource
	cameraErr error
	mic       media.Microphone
	micErr    error
}

func (d openedDevices) closeAll() {
	if d.output != nil {
		_ = d.output.Close()
	}
	if d.camera != nil {
		_ = d.camera.Close()
	}
	if d.mic != nil {
		_ = d.mic.Close()
	}
}

// openDevices runs off the loop.
func (s *Session) openDevices(ctx context.Context) openedDevices {
	var d openedDevices
	if s.newOut != nil {
		d.output, d.outputErr = s.newOut()
	} else {
		d.outputErr = errors.New("no audio output configured")
	}
	if s.devices == nil {
		d.cameraErr = media.ErrDeviceUnavailable
		d.micErr = media.ErrDeviceUnavailable
		return d
	}
	d.camera, d.cameraErr = s.devices.OpenCamera(ctx)
	d.mic, d.micErr = s.devices.OpenMicrophone(ctx)
	return d
}

// devicesOpened installs the devices. Devices opened for a session that
// was torn down meanwhile are closed again.
func (s *Session) devicesOpened(gen uint64, d openedDevices) {
	if gen != s.gen || !s.started {
		d.closeAll()
		return
	}

	if d.output != nil {
		s.output = d.output
		s.caps.Audio = true
		s.queue.SetOutput(d.output)
	} else {
		log.Printf("[playback] WARN: audio output unavailable, replies will not be heard: %v", d.outputErr)
	}

	if d.mic != nil {
		s.mic = d.mic
		s.caps.Microphone = true
		if err := d.mic.Start(func(pcm []byte) {
			s.analyser.Feed(pcm)
			if s.opts.StreamVoice {
				s.loop.Post(func() { s.streamVoice(gen, pcm) })
			}
		}); err != nil {
			log.Printf("[session] WARN: failed to start microphone: %v", err)
			s.caps.Microphone = false
		}
	} else {
		log.Printf("[session] WARN: microphone unavailable, voice disabled: %v", d.micErr)
	}

	if d.camera != nil {
		s.camera = d.camera
		s.caps.Camera = true
		s.beginScan()
	} else {
		log.Printf("[scan] WARN: camera unavailable, skipping face recognition: %v", d.cameraErr)
		s.setPhase(PhaseIdle)
	}
	s.publishState()
}

// connected installs the channel. A channel that connects after teardown
// is closed.
func (s *Session) connected(gen uint64, ch Channel, err error) {
	if gen != s.gen || !s.started {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		log.Printf("[ws] WARN: failed to connect to brain: %v", err)
		s.alert("Could not connect to the assistant.")
		s.publishState()
		return
	}
	s.channel = ch
	s.publishState()
}

func (s *Session) channelClosed(gen uint64, err error) {
	if gen != s.gen || !s.started {
		return
	}
	log.Printf("[ws] brain connection closed: %v", err)
	s.channel = nil
	s.publish(EventChannelClosed, Alert{Message: "Connection to the assistant was lost."})
	s.publishState()
}

func (s *Session) handleMessage(gen uint64, msg protocol.Inbound) {
	if gen != s.gen || !s.started {
		return
	}
	switch m := msg.(type) {
	case protocol.Log:
		log.Printf("[session] brain: %s", m.Content)
	case protocol.Unknown:
		log.Printf("[session] ignoring unknown message type %q", m.Type)
	}
	s.transition(Dispatch(s.state, msg))
}

func (s *Session) enqueueAudio(gen uint64, seg audio.Segment) {
	if gen != s.gen || !s.started {
		return
	}
	s.queue.Enqueue(seg)
}

func (s *Session) streamVoice(gen uint64, pcm []byte) {
	if gen != s.gen || !s.started {
		return
	}
	if s.state.MicMuted || !s.state.VoiceReady() || !s.channelOpen() {
		return
	}
	_ = s.channel.SendBinary(pcm)
}

// transition installs a new state and applies its effects.
func (s *Session) transition(st State, effects []Effect) {
	prev := s.state.Phase
	s.state = st
	if st.Phase != prev {
		s.metrics.PhaseEntered(st.Phase.String())
	}
	s.apply(effects)
	s.publishState()
}

func (s *Session) setPhase(p Phase) {
	if s.state.Phase != p {
		s.state.Phase = p
		s.metrics.PhaseEntered(p.String())
	}
}

func (s *Session) apply(effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case SendEffect:
			s.send(e.Msg)
		case NotifyEffect:
			s.publish(e.Type, e.Data)
		case ResolveScanEffect:
			s.scan.Resolve()
		case ClearPlaybackEffect:
			s.queue.Clear()
		case AppendMessageEffect:
			msg := domain.Message{Role: e.Role, Content: e.Content, Timestamp: s.now().UTC().Format(time.RFC3339)}
			if err := s.store.AppendMessage(s.ctx, msg); err != nil {
				log.Printf("[session] WARN: failed to cache message: %v", err)
			}
			s.publish(EventMessageAppended, msg)
		case ReplaceMessagesEffect:
			if err := s.store.ReplaceMessages(s.ctx, e.Messages); err != nil {
				log.Printf("[session] WARN: failed to cache messages: %v", err)
			}
			s.publish(EventMessages, e.Messages)
		case ClearMessagesEffect:
			if err := s.store.ClearMessages(s.ctx); err != nil {
				log.Printf("[session] WARN: failed to clear messages: %v", err)
			}
			s.publish(EventMessages, []domain.Message{})
		case ReplaceConversationsEffect:
			if err := s.store.ReplaceConversations(s.ctx, e.Conversations); err != nil {
				log.Printf("[session] WARN: failed to cache conversations: %v", err)
			}
			s.publish(EventConversations, e.Conversations)
		case ReplaceRemindersEffect:
			if err := s.store.ReplaceReminders(s.ctx, e.Reminders); err != nil {
				log.Printf("[session] WARN: failed to cache reminders: %v", err)
			}
			s.publish(EventReminders, e.Reminders)
		}
	}
}

// send delivers a control message. Sends on a closed channel are dropped.
func (s *Session) send(msg protocol.Outbound) {
	if !s.channelOpen() {
		log.Printf("[session] channel not open, dropping %s", msg.OutboundType())
		return
	}
	if err := s.channel.Send(msg); err != nil {
		log.Printf("[session] WARN: failed to send %s: %v", msg.OutboundType(), err)
	}
}

func (s *Session) channelOpen() bool {
	return s.channel != nil && s.channel.IsOpen()
}

func (s *Session) beginScan() {
	s.setPhase(PhaseScanning)
	s.scan.Start(s.camera, channelSender{s})
}

func (s *Session) animate() {
	level := s.analyser.Level()
	if math.Abs(level-s.lastLevel) < 0.01 {
		return
	}
	s.lastLevel = level
	s.publish(EventLevel, level)
}

func (s *Session) alert(message string) {
	s.publish(EventAlert, Alert{Message: message})
}

func (s *Session) publish(eventType string, data interface{}) {
	s.sink.Publish(Event{
		Type:      eventType,
		SessionID: s.id,
		Ts:        s.now().UnixMilli(),
		Data:      data,
	})
}

func (s *Session) publishState() {
	s.publish(EventState, s.View())
}

// Teardown releases everything the session owns in one step: the scan
// timers, the channel, the visualizer, the devices and the audio output.
// Completions still in flight are discarded when they arrive.
func (s *Session) Teardown() {
	wasStarted := s.started
	s.gen++
	s.started = false

	s.scan.Cancel()
	if s.visualizer != nil {
		s.visualizer.Stop()
		s.visualizer = nil
	}
	if s.cancelDevices != nil {
		s.cancelDevices()
		s.cancelDevices = nil
	}
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.mic != nil {
		_ = s.mic.Close()
		s.mic = nil
	}
	if s.camera != nil {
		_ = s.camera.Close()
		s.camera = nil
	}
	s.queue.Clear()
	if s.output != nil {
		s.queue.SetOutput(nil)
		_ = s.output.Close()
		s.output = nil
	}
	s.analyser.Reset()

	if err := s.store.Reset(s.ctx); err != nil {
		log.Printf("[session] WARN: failed to reset cache: %v", err)
	}
	s.state = State{Phase: PhaseAnonymous}
	s.caps = Capabilities{}

	if wasStarted {
		log.Printf("[session] session %s torn down", s.id)
	}
	s.publishState()
	s.id = ""
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Started reports whether Start was called since the last teardown.
func (s *Session) Started() bool {
	return s.started
}

// ScanState returns the state of the identity scan.
func (s *Session) ScanState() capture.State {
	return s.scan.State()
}

// Playback exposes the playback queue for inspection.
func (s *Session) Playback() *playback.Queue {
	return s.queue
}

// connHandler receives one connection's traffic on its read goroutine and
// forwards it to the loop in arrival order. Audio is decoded here, off the
// loop; decode order is arrival order.
type connHandler struct {
	s     *Session
	gen   uint64
	ready chan struct{}
}

func (h *connHandler) OnMessage(msg protocol.Inbound) {
	<-h.ready
	h.s.loop.Post(func() { h.s.handleMessage(h.gen, msg) })
}

func (h *connHandler) OnBinary(data []byte) {
	<-h.ready
	seg, err := h.s.decoder.Decode(data)
	if err != nil {
		log.Printf("[playback] WARN: dropping undecodable audio frame: %v", err)
		h.s.metrics.DecodeFailed()
		return
	}
	h.s.loop.Post(func() { h.s.enqueueAudio(h.gen, seg) })
}

func (h *connHandler) OnClose(err error) {
	<-h.ready
	h.s.loop.Post(func() { h.s.channelClosed(h.gen, err) })
}

// channelSender lets the scan send through whichever channel is current.
type channelSender struct {
	s *Session
}

func (c channelSender) IsOpen() bool {
	return c.s.channelOpen()
}

func (c channelSender) SendBinary(data []byte) error {
	if !c.s.channelOpen() {
		return transport.ErrChannelNotOpen
	}
	return c.s.channel.SendBinary(data)
}

type scanListener struct {
	s *Session
}

func (l scanListener) ScanProgress(attempts, maxAttempts int, message string) {
	l.s.state.ScanMessage = message
	l.s.publish(EventScanProgress, ScanUpdate{Attempts: attempts, MaxAttempts: maxAttempts, Message: message})
}

func (l scanListener) ScanEnded(state capture.State, message string) {
	s := l.s
	if message != "" {
		s.state.ScanMessage = message
	}
	if (state == capture.Exhausted || state == capture.TimedOut) && s.state.Phase == PhaseScanning {
		s.setPhase(PhaseIdle)
	}
	s.publish(EventScanEnded, ScanUpdate{
		Attempts: s.scan.Attempts(),
		Outcome:  state.String(),
		Message:  s.state.ScanMessage,
	})
	if state != capture.Resolved {
		s.publishState()
	}
}

// DeniedError reports a user action rejected by the action policy. Reason
// is user-facing text.
type DeniedError struct {
	Action string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason)
}

// ValidationError wraps user-facing input validation failures.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }
