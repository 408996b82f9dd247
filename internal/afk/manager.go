// Package afk implements the AFK Manager: the orchestrator that owns the
// request queue, routes chat events, reacts to hook submissions, drives
// the presenter and injector, and enforces AFK mode's lifecycle
// transitions. It is the one component that knows about every other
// component in the bridge.
package afk

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/afkbridge/afkd/internal/chattransport"
	"github.com/afkbridge/afkd/internal/control"
	"github.com/afkbridge/afkd/internal/hookrendezvous"
	"github.com/afkbridge/afkd/internal/inject"
	"github.com/afkbridge/afkd/internal/permcache"
	"github.com/afkbridge/afkd/internal/presenter"
	"github.com/afkbridge/afkd/internal/queue"
	"github.com/afkbridge/afkd/internal/redact"
	"github.com/afkbridge/afkd/internal/router"
)

// Config wires a Manager to its collaborators. Multiplexer, PermCache,
// Redactor, and Hub may be nil: each is an optional capability the
// Manager degrades gracefully without.
type Config struct {
	Transport   chattransport.Transport
	Presenter   *presenter.Presenter
	Router      *router.Router
	Queue       *queue.Queue
	Injector    *inject.Injector
	Multiplexer inject.Multiplexer
	PermCache   *permcache.Cache
	Redactor    *redact.Filter
	Hub         *control.EventHub
	ResponseDir string
}

// Manager is the AFK bridge's orchestrator. All mutable state is
// guarded by mu; messages are rendered while holding mu but always
// sent outside it, per the no-I/O-under-lock rule the rest of this
// module follows.
type Manager struct {
	transport   chattransport.Transport
	presenter   *presenter.Presenter
	router      *router.Router
	queue       *queue.Queue
	injector    *inject.Injector
	multiplexer inject.Multiplexer
	permcache   *permcache.Cache
	redactor    *redact.Filter
	hub         *control.EventHub
	responseDir string

	mu                  sync.Mutex
	active              bool
	sessionContexts     map[string]string
	sessionTTYPaths     map[string]string
	replyTarget         string
	replyViaMultiplexer bool
	lastErrors          map[string]string

	ctx        context.Context
	cancelPoll context.CancelFunc
	pollWG     sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New returns a Manager ready to have StartListening called on it.
func New(cfg Config) *Manager {
	return &Manager{
		transport:       cfg.Transport,
		presenter:       cfg.Presenter,
		router:          cfg.Router,
		queue:           cfg.Queue,
		injector:        cfg.Injector,
		multiplexer:     cfg.Multiplexer,
		permcache:       cfg.PermCache,
		redactor:        cfg.Redactor,
		hub:             cfg.Hub,
		responseDir:     cfg.ResponseDir,
		sessionContexts: make(map[string]string),
		sessionTTYPaths: make(map[string]string),
		lastErrors:      make(map[string]string),
		ctx:             context.Background(),
		shutdownCh:      make(chan struct{}),
	}
}

// Done is closed once Shutdown has been called; cmd/afkd's main
// goroutine waits on it to begin the graceful-shutdown sequence.
func (m *Manager) Done() <-chan struct{} { return m.shutdownCh }

// Shutdown signals that the daemon should exit. Safe to call more than
// once and from any goroutine.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() { close(m.shutdownCh) })
}

// StartListening verifies the chat transport and starts the long-poll
// loop. It runs regardless of AFK mode being active, so global commands
// like /afk are always reachable.
func (m *Manager) StartListening(ctx context.Context) error {
	if err := m.transport.Verify(ctx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
			return fmt.Errorf("%w: %v", ErrAuthInvalid, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	m.ctx = pollCtx
	m.cancelPoll = cancel

	buttons, texts, errs := m.transport.Poll(pollCtx)
	m.pollWG.Add(1)
	go func() {
		defer m.pollWG.Done()
		m.pollLoop(buttons, texts, errs)
	}()
	return nil
}

// StopListening cancels the poll loop and waits for it to exit.
func (m *Manager) StopListening() {
	if m.cancelPoll != nil {
		m.cancelPoll()
	}
	m.transport.Stop()
	m.pollWG.Wait()
}

func (m *Manager) pollLoop(buttons <-chan chattransport.ButtonPress, texts <-chan chattransport.TextMessage, errs <-chan error) {
	for buttons != nil || texts != nil || errs != nil {
		select {
		case bp, ok := <-buttons:
			if !ok {
				buttons = nil
				continue
			}
			m.HandleButtonPress(bp)
		case tm, ok := <-texts:
			if !ok {
				texts = nil
				continue
			}
			m.HandleTextMessage(tm)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.reportError("chattransport", fmt.Errorf("%w: %v", ErrPollError, err), "poll_error")
		}
	}
}

// --- lifecycle ---

// ToggleAFK flips AFK mode: activates if inactive, deactivates if active.
func (m *Manager) ToggleAFK() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active {
		return m.Deactivate()
	}
	return m.Activate()
}

// Activate turns AFK mode on: prompts will be forwarded to chat from
// here on. A no-op if already active.
func (m *Manager) Activate() error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = true
	m.mu.Unlock()

	if err := os.MkdirAll(m.responseDir, 0700); err != nil {
		return fmt.Errorf("afk: create response dir: %w", err)
	}

	msg := "\U0001f7e2 AFK mode activated. Prompts will be forwarded here."
	if m.multiplexer != nil && !m.multiplexer.Available() {
		msg += "\n\n⚠️ tmux not found; terminal replies will use the device-node fallback only."
	}
	m.sendText(msg)
	m.publish(control.ModeChangedEvent(true))
	return nil
}

// Deactivate turns AFK mode off, flushing every pending request so its
// hook unblocks locally instead of waiting out its deadline.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	m.mu.Unlock()

	flushed, err := m.Flush()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessionContexts = make(map[string]string)
	m.sessionTTYPaths = make(map[string]string)
	m.replyTarget = ""
	m.replyViaMultiplexer = false
	m.mu.Unlock()

	m.sendText(fmt.Sprintf("\U0001f534 AFK mode deactivated. Flushed %d pending request(s).", flushed))
	m.publish(control.ModeChangedEvent(false))
	return nil
}

// Status reports the daemon's current state for the control plane.
func (m *Manager) Status() control.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return control.StatusResponse{
		Daemon:    true,
		Active:    m.active,
		QueueSize: m.queue.Len(),
		Ready:     m.presenter != nil && m.transport != nil,
	}
}

// QueueSummary exposes the current queue contents for read-only
// introspection (the MCP tool server's afk_queue calls this instead of
// reaching into internal/queue directly).
func (m *Manager) QueueSummary() []queue.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Summary()
}

// SessionInfo describes one terminal session for introspection tools.
type SessionInfo struct {
	Session string
	Status  string
	Pending int
}

// Sessions lists known tmux sessions with their inferred status and
// pending-request count. Returns nil if no multiplexer is configured.
func (m *Manager) Sessions(ctx context.Context) ([]SessionInfo, error) {
	if m.multiplexer == nil || !m.multiplexer.Available() {
		return nil, nil
	}
	names, err := m.multiplexer.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("afk: list sessions: %w", err)
	}

	m.mu.Lock()
	pending := make(map[string]int)
	for _, e := range m.queue.Summary() {
		pending[e.Request.Session]++
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(names))
	for _, name := range names {
		out = append(out, SessionInfo{
			Session: name,
			Status:  string(m.multiplexer.StatusOf(ctx, name)),
			Pending: pending[name],
		})
	}
	return out, nil
}

// Skip moves the active request to the back of the queue and presents
// whatever is promoted, if anything.
func (m *Manager) Skip() error {
	m.mu.Lock()
	next := m.queue.Skip()
	m.mu.Unlock()
	if next == nil {
		return nil
	}
	m.mu.Lock()
	visual := m.queue.VisualID(next.Session)
	m.mu.Unlock()
	m.sendText(fmt.Sprintf("⏭️ Skipped. Next: %s [%s]", visual, next.Session))
	m.presentActive()
	return nil
}

// PriorityJump promotes the first pending request from session ahead of
// the current active one.
func (m *Manager) PriorityJump(session string) error {
	m.mu.Lock()
	jumped := m.queue.PriorityJump(session)
	visual := m.queue.VisualID(session)
	m.mu.Unlock()
	if jumped == nil {
		m.sendText(fmt.Sprintf("No pending requests from [%s]", session))
		return nil
	}
	m.sendText(fmt.Sprintf("⏭️ Jumped to %s [%s]", visual, session))
	m.presentActive()
	return nil
}

// Flush clears every request in the queue, writing the "__flush__"
// sentinel to each so its waiting hook declines locally.
func (m *Manager) Flush() (int, error) {
	m.mu.Lock()
	removed := m.queue.Clear()
	m.mu.Unlock()

	for _, r := range removed {
		if err := hookrendezvous.WriteSentinel(r.ResponseSentinelPath, "__flush__"); err != nil {
			m.reportError("hookrendezvous", err, "sentinel_write_failed")
		}
	}
	m.publish(control.QueueChangedEvent(0, ""))
	return len(removed), nil
}

// --- hook rendezvous ---

// HandleHookRequest implements hookrendezvous.Handler. It is the
// hook-side entry point: a terminal companion submits a prompt and this
// decides whether to enqueue it, auto-answer it from the permission
// cache, or reject it because AFK mode is off.
func (m *Manager) HandleHookRequest(req hookrendezvous.Request) hookrendezvous.Response {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		return hookrendezvous.Response{Wait: false}
	}

	session := req.Session
	if session == "" {
		session = "unknown"
	}

	displayContext := req.RawText
	if displayContext == "" {
		displayContext = req.Context
	}

	m.mu.Lock()
	if displayContext != "" {
		m.sessionContexts[session] = displayContext
	} else {
		displayContext = m.sessionContexts[session]
	}
	if req.TTYPath != "" {
		m.sessionTTYPaths[session] = req.TTYPath
	}
	m.mu.Unlock()

	if req.Type == "context" {
		m.mu.Lock()
		m.replyTarget = session
		m.replyViaMultiplexer = inject.ReplyRoutable(m.ctx, m.multiplexer, session)
		_, hasTTY := m.sessionTTYPaths[session]
		visual := m.queue.VisualID(session)
		m.mu.Unlock()

		rendered := presenter.ToChatHTML(presenter.TruncateContext(m.scrub(displayContext)))
		text, markup := m.presenter.FormatContextMessage(session, visual, rendered, hasTTY)
		m.send(text, markup)
		return hookrendezvous.Response{Wait: false}
	}

	kind := queue.Kind(req.Type)

	if kind == queue.KindPermission && m.permcache != nil {
		fp := permcache.Fingerprint(req.Prompt)
		ok, err := m.permcache.Lookup(fp)
		if err != nil {
			m.reportError("permcache", err, "lookup_failed")
		} else if ok {
			responsePath := hookrendezvous.ResponsePath(m.responseDir, session, req.Type)
			if err := hookrendezvous.WriteSentinel(responsePath, "yes"); err != nil {
				m.reportError("hookrendezvous", err, "sentinel_write_failed")
				return hookrendezvous.Response{Wait: false}
			}
			return hookrendezvous.Response{Wait: true, ResponsePath: responsePath}
		}
	}

	var options []queue.Option
	if len(req.Questions) > 0 {
		for _, o := range req.Questions[0].Options {
			options = append(options, queue.Option{Label: o.Label, Description: o.Description})
		}
	}

	responsePath := hookrendezvous.ResponsePath(m.responseDir, session, req.Type)
	qreq := &queue.Request{
		Session:              session,
		Kind:                 kind,
		Prompt:               req.Prompt,
		ResponseSentinelPath: responsePath,
		Options:              options,
		Context:              displayContext,
		CreatedAt:            time.Now(),
	}

	m.mu.Lock()
	status := m.queue.Enqueue(qreq)
	queueSize := m.queue.Len()
	m.mu.Unlock()

	log.Printf("afkd: enqueued %s from [%s] -> %s", kind, session, status)

	if status == "active" {
		m.presentActive()
	} else {
		m.sendQueuedNotification(qreq)
	}
	m.publish(control.QueueChangedEvent(queueSize, session))

	return hookrendezvous.Response{Wait: true, ResponsePath: responsePath}
}

// --- chat button presses ---

// HandleButtonPress implements the callback_data dialect: tmux session
// actions, queue-management commands, the reply-target button, and
// finally (the common case) an answer to the active request.
func (m *Manager) HandleButtonPress(bp chattransport.ButtonPress) {
	cd := router.ParseCallbackData(bp.Data)

	switch cd.Kind {
	case router.KindTmuxPrompt:
		m.ackAndStrip(bp, "OK")
		m.handleTmuxPrompt(cd.Session)
		return
	case router.KindTmuxQueue:
		m.ackAndStrip(bp, "OK")
		m.handleTmuxQueue(cd.Session)
		return
	case router.KindCmdSkip, router.KindCmdShowQueue, router.KindCmdPriority:
		m.ackAndStrip(bp, "Sent: "+cd.Raw)
		m.handleQueueCommand(cd)
		return
	case router.KindReply:
		m.ackCallback(bp, "Sent: "+cd.Raw)
		m.handleReplyButton(cd.Session)
		return
	}

	m.mu.Lock()
	pending := m.router.RouteButtonPress(bp.MessageID)
	m.mu.Unlock()

	if pending == nil {
		log.Printf("afkd: %v (data=%q)", ErrStaleCallback, bp.Data)
		m.ackCallback(bp, "Request expired")
		m.stripMarkup(bp.MessageID)
		return
	}

	m.ackCallback(bp, "Sent: "+cd.Raw)
	m.stripMarkup(bp.MessageID)

	if cd.Kind == router.KindOptionOther {
		m.sendText("Type your reply below:")
		return
	}

	if cd.Kind == router.KindPermissionAlways && m.permcache != nil {
		fp := permcache.Fingerprint(pending.Prompt)
		if err := m.permcache.StoreAlways(fp, pending.Session, pending.Prompt); err != nil {
			m.reportError("permcache", err, "store_failed")
		}
	}

	if err := hookrendezvous.WriteSentinel(pending.ResponseSentinelPath, cd.Raw); err != nil {
		m.reportError("hookrendezvous", err, "sentinel_write_failed")
	}
	m.sendConfirmation(pending.Session, cd.Raw)
	m.advanceQueue()
}

func (m *Manager) handleQueueCommand(cd router.CallbackData) {
	switch cd.Kind {
	case router.KindCmdSkip:
		_ = m.Skip()
	case router.KindCmdShowQueue:
		m.sendQueueSummary()
	case router.KindCmdPriority:
		_ = m.PriorityJump(cd.Session)
	}
}

func (m *Manager) handleTmuxPrompt(session string) {
	if m.multiplexer == nil || m.multiplexer.StatusOf(m.ctx, session) != inject.StatusIdle {
		m.sendText(fmt.Sprintf("⚠️ [%s] is no longer idle", session))
		return
	}
	m.mu.Lock()
	m.replyTarget = session
	m.replyViaMultiplexer = true
	visual := m.queue.VisualID(session)
	m.mu.Unlock()
	m.sendText(fmt.Sprintf("\U0001f4ac Send a message to %s [%s]:", visual, session))
}

func (m *Manager) handleTmuxQueue(session string) {
	m.mu.Lock()
	entries := m.queue.Summary()
	m.mu.Unlock()

	var filtered []queue.Entry
	for _, e := range entries {
		if e.Request.Session == session {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		m.sendText(fmt.Sprintf("No pending requests for [%s].", session))
		return
	}
	text, markup := m.presenter.FormatQueueSummary(filtered)
	m.send(text, markup)
}

func (m *Manager) handleReplyButton(session string) {
	m.mu.Lock()
	m.replyTarget = session
	m.mu.Unlock()

	if m.multiplexer != nil && inject.ReplyRoutable(m.ctx, m.multiplexer, session) {
		m.mu.Lock()
		m.replyViaMultiplexer = true
		m.mu.Unlock()
		m.sendText(fmt.Sprintf("\U0001f4ac Type your reply to [%s]:", session))
		return
	}

	m.mu.Lock()
	_, hasTTY := m.sessionTTYPaths[session]
	m.replyViaMultiplexer = false
	m.mu.Unlock()

	if hasTTY {
		m.sendText(fmt.Sprintf("\U0001f4ac Type your reply to [%s]:", session))
		return
	}

	m.sendText(fmt.Sprintf("⚠️ No terminal connected for [%s]. Reply not available.", session))
	m.mu.Lock()
	m.replyTarget = ""
	m.mu.Unlock()
}

// --- chat text messages ---

// HandleTextMessage dispatches a plain chat message: slash commands
// first (always accepted), then routing to the active request, then
// falling back to reply-target delivery.
func (m *Manager) HandleTextMessage(tm chattransport.TextMessage) {
	text := tm.Text
	if text == "" {
		return
	}

	if m.handleSlashCommand(strings.ToLower(strings.TrimSpace(text))) {
		return
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		m.sendText("Not in AFK mode. Send /afk to activate.")
		return
	}

	m.mu.Lock()
	pending := m.router.RouteTextMessage()
	m.mu.Unlock()

	if pending == nil {
		m.routeReplyTarget(text)
		return
	}

	if pending.Kind == queue.KindPermission {
		m.typeIntoTerminal(pending.Session, text)
		m.sendText(fmt.Sprintf(
			"\U0001f4ac Sent question to [%s]: %s\n\nPermission will be re-requested after the assistant responds.",
			pending.Session, presenter.EscapeHTML(m.scrub(text)),
		))
		if err := hookrendezvous.WriteSentinel(pending.ResponseSentinelPath, "deny_for_question"); err != nil {
			m.reportError("hookrendezvous", err, "sentinel_write_failed")
		}
		m.advanceQueue()
		return
	}

	if err := hookrendezvous.WriteSentinel(pending.ResponseSentinelPath, text); err != nil {
		m.reportError("hookrendezvous", err, "sentinel_write_failed")
	}
	m.sendConfirmation(pending.Session, text)
	m.advanceQueue()
}

func (m *Manager) handleSlashCommand(cmd string) bool {
	switch cmd {
	case "/afk":
		if err := m.ToggleAFK(); err != nil {
			m.reportError("afk", err, "toggle_failed")
		}
	case "/back":
		m.mu.Lock()
		active := m.active
		m.mu.Unlock()
		if active {
			if err := m.Deactivate(); err != nil {
				m.reportError("afk", err, "deactivate_failed")
			}
		} else {
			m.sendText("Not in AFK mode. Send /afk to activate.")
		}
	case "/status":
		m.sendStatus()
	case "/flush":
		n, err := m.Flush()
		if err != nil {
			m.reportError("afk", err, "flush_failed")
			break
		}
		m.sendText(fmt.Sprintf("Flushed %d pending request(s).", n))
	case "/queue":
		m.sendQueueSummary()
	case "/skip":
		if err := m.Skip(); err != nil {
			m.reportError("afk", err, "skip_failed")
		}
	case "/help":
		m.sendHelp()
	case "/sessions":
		m.handleSessionsCommand()
	default:
		return false
	}
	return true
}

// routeReplyTarget delivers free text to whichever session was last
// designated the reply target, via whichever mechanism was recorded
// when the target was set.
func (m *Manager) routeReplyTarget(text string) {
	m.mu.Lock()
	session := m.replyTarget
	viaMultiplexer := m.replyViaMultiplexer
	m.mu.Unlock()

	if session == "" {
		m.sendText("No active request. Queue is empty.")
		return
	}

	m.mu.Lock()
	m.replyTarget = ""
	m.replyViaMultiplexer = false
	m.mu.Unlock()

	if m.injector == nil {
		m.sendText(fmt.Sprintf("⚠️ No terminal connected for [%s].", session))
		return
	}

	var target inject.SessionTarget
	if viaMultiplexer {
		target.MultiplexerSession = session
	} else {
		m.mu.Lock()
		target.DevicePath = m.sessionTTYPaths[session]
		m.mu.Unlock()
	}
	if target.MultiplexerSession == "" && target.DevicePath == "" {
		m.sendText(fmt.Sprintf("⚠️ No terminal connected for [%s].", session))
		return
	}

	if err := m.injector.Deliver(m.ctx, target, text); err != nil {
		m.reportError("inject", fmt.Errorf("%w: %v", ErrInjectFailed, err), "deliver_failed")
		if target.DevicePath != "" {
			m.mu.Lock()
			delete(m.sessionTTYPaths, session)
			m.mu.Unlock()
		}
		m.sendText(fmt.Sprintf("⚠️ Failed to send to [%s]. Session may no longer be reachable.", session))
		return
	}

	m.mu.Lock()
	visual := m.queue.VisualID(session)
	m.mu.Unlock()
	m.sendText(fmt.Sprintf("✓ Sent to %s [%s]: %s", visual, session, presenter.EscapeHTML(m.scrub(text))))
}

// typeIntoTerminal delivers text via the device-node path only: this is
// used while a permission request is active and the session isn't idle,
// so a multiplexer send-keys (which requires idle) would be refused.
func (m *Manager) typeIntoTerminal(session, text string) {
	m.mu.Lock()
	devicePath, hasTTY := m.sessionTTYPaths[session]
	m.mu.Unlock()

	if !hasTTY || m.injector == nil {
		m.sendText(fmt.Sprintf("⚠️ No terminal connected. Could not type: %s", presenter.EscapeHTML(m.scrub(text))))
		return
	}
	if err := m.injector.Deliver(m.ctx, inject.SessionTarget{DevicePath: devicePath}, text); err != nil {
		m.reportError("inject", fmt.Errorf("%w: %v", ErrInjectFailed, err), "deliver_failed")
		m.mu.Lock()
		delete(m.sessionTTYPaths, session)
		m.mu.Unlock()
		m.sendText(fmt.Sprintf("⚠️ No terminal connected. Could not type: %s", presenter.EscapeHTML(m.scrub(text))))
	}
}

// --- presentation & status helpers ---

func (m *Manager) presentActive() {
	m.mu.Lock()
	active := m.queue.Active()
	if active == nil {
		m.mu.Unlock()
		return
	}
	queueSize := m.queue.Len()
	visual := m.queue.VisualID(active.Session)
	m.mu.Unlock()

	text, markup := m.presenter.FormatActive(active, presenter.QueueInfo{Visual: visual, QueueSize: queueSize})
	msgID, err := m.transport.Send(m.ctx, text, markup)
	if err != nil {
		m.reportError("chattransport", err, "send_failed")
		return
	}

	m.mu.Lock()
	if m.queue.Active() == active {
		id := msgID
		active.RemoteMessageID = &id
	}
	m.mu.Unlock()
}

func (m *Manager) sendQueuedNotification(req *queue.Request) {
	m.mu.Lock()
	entries := m.queue.Summary()
	m.mu.Unlock()

	var info presenter.QueueInfo
	if len(entries) > 0 && entries[0].Status == "active" {
		info.ActiveSession = entries[0].Request.Session
		info.ActiveKind = string(entries[0].Request.Kind)
	}

	var target *queue.Entry
	for i := range entries {
		if entries[i].Request == req {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return
	}
	info.Visual = target.Visual
	info.Position = target.Position
	info.Total = len(entries)

	m.sendText(m.presenter.FormatQueuedNotification(req, info))
}

func (m *Manager) sendConfirmation(session, data string) {
	m.mu.Lock()
	visual := m.queue.VisualID(session)
	m.mu.Unlock()
	m.sendText(fmt.Sprintf("✓ Sent to %s [%s]: %s", visual, session, presenter.EscapeHTML(m.scrub(data))))
}

func (m *Manager) sendQueueSummary() {
	m.mu.Lock()
	entries := m.queue.Summary()
	m.mu.Unlock()
	text, markup := m.presenter.FormatQueueSummary(entries)
	m.send(text, markup)
}

func (m *Manager) sendStatus() {
	m.mu.Lock()
	if len(m.sessionContexts) == 0 {
		m.mu.Unlock()
		m.sendText("No active sessions.")
		return
	}

	pending := make(map[string]bool)
	for _, e := range m.queue.Summary() {
		pending[e.Request.Session] = true
	}

	lines := []string{"<b>Active sessions:</b>\n"}
	for session, ctx := range m.sessionContexts {
		visual := m.queue.VisualID(session)
		state := "idle"
		switch {
		case pending[session]:
			state = "⏳ waiting for you"
		case m.replyTarget == session:
			state = "\U0001f4ac reply target"
		}
		ttyIndicator := ""
		if _, ok := m.sessionTTYPaths[session]; ok {
			ttyIndicator = " \U0001f5a5"
		}
		lines = append(lines, fmt.Sprintf("%s <b>[%s]</b>%s — %s\n%s\n",
			visual, session, ttyIndicator, state, presenter.EscapeHTML(lastNonEmptyLine(m.scrub(ctx)))))
	}
	m.mu.Unlock()

	m.sendText(strings.Join(lines, "\n"))
}

func (m *Manager) sendHelp() {
	m.sendText(
		"<b>AFK Mode — Help</b>\n\n" +
			"Respond to the assistant remotely via chat.\n" +
			"Permission requests, input prompts, and questions\n" +
			"appear here. Reply with buttons or free text.\n\n" +
			"<b>Commands:</b>\n" +
			"/afk — toggle AFK mode on/off\n" +
			"/back — deactivate AFK mode\n" +
			"/status — show active sessions\n" +
			"/queue — show pending requests\n" +
			"/sessions — list terminal sessions and send new prompts\n" +
			"/skip — skip current request\n" +
			"/flush — clear all pending requests\n" +
			"/help — show this message\n\n" +
			"When a request is active, any text you type is\n" +
			"sent as the reply.",
	)
}

func (m *Manager) handleSessionsCommand() {
	if m.multiplexer == nil || !m.multiplexer.Available() {
		m.sendText("tmux is not available.")
		return
	}
	sessions, err := m.multiplexer.ListSessions(m.ctx)
	if err != nil {
		m.reportError("inject", err, "list_sessions_failed")
		return
	}
	if len(sessions) == 0 {
		m.sendText("No sessions found in tmux.")
		return
	}

	m.mu.Lock()
	pendingCounts := make(map[string]int)
	for _, e := range m.queue.Summary() {
		pendingCounts[e.Request.Session]++
	}
	m.mu.Unlock()

	lines := []string{"\U0001f4cb <b>Sessions</b>\n"}
	var rows [][]presenter.Button

	for _, session := range sessions {
		status := m.multiplexer.StatusOf(m.ctx, session)
		m.mu.Lock()
		visual := m.queue.VisualID(session)
		m.mu.Unlock()

		var icon, text string
		if count := pendingCounts[session]; count > 0 {
			icon, text = "\U0001f7e1", fmt.Sprintf("waiting for input (%d pending)", count)
		} else {
			switch status {
			case inject.StatusIdle:
				icon, text = "\U0001f7e2", "idle"
			case inject.StatusWorking:
				icon, text = "\U0001f535", "working"
			case inject.StatusDead:
				icon, text = "⚫", "dead"
			default:
				icon, text = "⚪", string(status)
			}
		}
		lines = append(lines, fmt.Sprintf("%s %s <b>[%s]</b> — %s", icon, visual, session, text))

		cbSession := session
		if len(cbSession) > 50 {
			cbSession = cbSession[:50]
		}
		switch {
		case pendingCounts[session] > 0:
			rows = append(rows, []presenter.Button{{
				Text:         fmt.Sprintf("%s %s — show requests", visual, session),
				CallbackData: "tmux:queue:" + cbSession,
			}})
		case status == inject.StatusIdle:
			rows = append(rows, []presenter.Button{{
				Text:         fmt.Sprintf("%s %s — send prompt", visual, session),
				CallbackData: "tmux:prompt:" + cbSession,
			}})
		}
	}

	var markup *presenter.Markup
	if len(rows) > 0 {
		markup = &presenter.Markup{Rows: rows}
	}
	m.send(strings.Join(lines, "\n"), markup)
}

func (m *Manager) advanceQueue() {
	m.mu.Lock()
	next := m.queue.Advance()
	queueSize := m.queue.Len()
	m.mu.Unlock()

	nextSession := ""
	if next != nil {
		nextSession = next.Session
	}
	m.publish(control.QueueChangedEvent(queueSize, nextSession))

	if next != nil {
		m.presentActive()
		return
	}
	m.sendText("✅ All requests handled!")
}

func lastNonEmptyLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "No recent activity"
	}
	lines := strings.Split(s, "\n")
	return lines[len(lines)-1]
}

// --- transport & error-reporting plumbing ---

func (m *Manager) scrub(s string) string {
	if m.redactor == nil {
		return s
	}
	return m.redactor.Scrub(s)
}

func (m *Manager) send(text string, markup *presenter.Markup) int {
	id, err := m.transport.Send(m.ctx, text, markup)
	if err != nil {
		m.reportError("chattransport", err, "send_failed")
		return 0
	}
	m.clearError("chattransport")
	return id
}

func (m *Manager) sendText(text string) {
	m.send(text, nil)
}

func (m *Manager) ackCallback(bp chattransport.ButtonPress, toast string) {
	if err := m.transport.AckCallback(m.ctx, bp.CallbackID, toast); err != nil {
		m.reportError("chattransport", err, "ack_failed")
	}
}

func (m *Manager) stripMarkup(messageID int) {
	if err := m.transport.EditMarkup(m.ctx, messageID, nil); err != nil {
		m.reportError("chattransport", err, "edit_markup_failed")
	}
}

func (m *Manager) ackAndStrip(bp chattransport.ButtonPress, toast string) {
	m.ackCallback(bp, toast)
	m.stripMarkup(bp.MessageID)
}

func (m *Manager) publish(ev control.Event) {
	if m.hub != nil {
		m.hub.Publish(ev)
	}
}

// reportError logs err once per distinct message for source and emits
// an "error" control-plane event; a repeat of the same message is a
// no-op so a steady failure produces one event, not a stream.
func (m *Manager) reportError(source string, err error, code string) {
	key := err.Error()
	m.mu.Lock()
	if m.lastErrors[source] == key {
		m.mu.Unlock()
		return
	}
	m.lastErrors[source] = key
	m.mu.Unlock()

	log.Printf("afkd: %s: %v", source, err)
	m.publish(control.ErrorEvent(source, key, code))
}

// clearError emits "error_cleared" the first time source succeeds again
// after a reported failure.
func (m *Manager) clearError(source string) {
	m.mu.Lock()
	_, had := m.lastErrors[source]
	delete(m.lastErrors, source)
	m.mu.Unlock()
	if had {
		m.publish(control.ErrorClearedEvent(source))
	}
}
