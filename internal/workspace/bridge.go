package workspace

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pochihq/pochi/internal/chat"
	"github.com/pochihq/pochi/internal/common/logger"
	"github.com/pochihq/pochi/internal/events/bus"
	"github.com/pochihq/pochi/internal/model"
	"github.com/pochihq/pochi/internal/plugin"
	"github.com/pochihq/pochi/internal/presenter"
	"github.com/pochihq/pochi/internal/progress"
	"github.com/pochihq/pochi/internal/router"
	"github.com/pochihq/pochi/internal/runner"
	"github.com/pochihq/pochi/internal/scheduler"
	"github.com/pochihq/pochi/internal/worktree"
)

// DefaultProgressEditEvery is the floor between progress message edits.
const DefaultProgressEditEvery = time.Second

// BridgeDeps wires the bridge's collaborators.
type BridgeDeps struct {
	Log       *logger.Logger
	Manager   *Manager
	Router    *router.AutoRouter
	Scheduler *scheduler.Scheduler
	Sender    *Sender
	Presenter presenter.Presenter
	Worktrees *worktree.Manager
	Locks     *runner.SessionLocks
	Ralph     *RalphManager
	Bus       bus.EventBus

	// CreateTopic creates a forum topic for a pending folder; nil disables
	// topic creation.
	CreateTopic func(ctx context.Context, chatID int64, name string) (int64, error)

	// Markup is the parse mode passed on outgoing messages.
	Markup string

	DebounceWindow    time.Duration
	ProgressEditEvery time.Duration
}

// Bridge is the message loop: debounced batches are routed, commands are
// dispatched, and prompts become scheduled engine turns with a live
// progress message.
type Bridge struct {
	log       *logger.Logger
	manager   *Manager
	router    *router.AutoRouter
	sched     *scheduler.Scheduler
	sender    *Sender
	present   presenter.Presenter
	worktrees *worktree.Manager
	locks     *runner.SessionLocks
	ralph     *RalphManager
	bus       bus.EventBus
	commands  *Commands
	deb       *Debouncer

	createTopic   func(ctx context.Context, chatID int64, name string) (int64, error)
	markup        string
	progressEvery time.Duration

	mu      sync.Mutex
	running map[int64]*runningTask
}

// runningTask tracks one in-flight turn, keyed by topic. The progress
// message ref lets a reply to it queue behind the turn and resume its
// session.
type runningTask struct {
	topicID   int64
	engine    model.EngineID
	folder    string
	threadKey string
	startedAt time.Time
	progress  chat.MessageRef
	cancel    context.CancelFunc

	mu     sync.Mutex
	resume *model.ResumeToken
}

func (t *runningTask) setResume(tok *model.ResumeToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok != nil {
		cp := *tok
		t.resume = &cp
	}
}

func (t *runningTask) latestResume() *model.ResumeToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resume == nil {
		return nil
	}
	cp := *t.resume
	return &cp
}

// NewBridge assembles the bridge and its built-in command handlers.
func NewBridge(deps BridgeDeps) *Bridge {
	if deps.ProgressEditEvery <= 0 {
		deps.ProgressEditEvery = DefaultProgressEditEvery
	}
	b := &Bridge{
		log:           deps.Log.WithFields(zap.String("component", "bridge")),
		manager:       deps.Manager,
		router:        deps.Router,
		sched:         deps.Scheduler,
		sender:        deps.Sender,
		present:       deps.Presenter,
		worktrees:     deps.Worktrees,
		locks:         deps.Locks,
		ralph:         deps.Ralph,
		bus:           deps.Bus,
		deb:           NewDebouncer(deps.DebounceWindow, nil),
		createTopic:   deps.CreateTopic,
		markup:        deps.Markup,
		progressEvery: deps.ProgressEditEvery,
		running:       make(map[int64]*runningTask),
	}
	engines := func() []string {
		ids := deps.Router.Engines()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = string(id)
		}
		return out
	}
	b.commands = NewCommands(deps.Manager, engines, b, deps.Log)
	return b
}

// Run consumes transport updates until ctx is done. The debouncer's
// pending batches are flushed through the normal path on shutdown.
func (b *Bridge) Run(ctx context.Context, updates <-chan chat.Update) {
	b.announce(ctx)
	b.ensurePendingTopics(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.deb.Run(ctx, func(batch Batch) { b.dispatch(ctx, batch) })
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				wg.Wait()
				return
			}
			switch {
			case u.Message != nil:
				for _, batch := range b.deb.Add(*u.Message) {
					b.dispatch(ctx, batch)
				}
			case u.Callback != nil:
				b.handleCallback(ctx, *u.Callback)
			}
		case <-ctx.Done():
			wg.Wait()
			return
		}
	}
}

// announce posts the startup message to the workspace's general stream.
func (b *Bridge) announce(ctx context.Context) {
	cfg := b.manager.Config()
	if cfg.Telegram.ChatID == 0 {
		return
	}
	engines := make([]string, 0)
	for _, id := range b.router.Engines() {
		engines = append(engines, string(id))
	}
	b.sender.SendAsync(chat.Outgoing{
		Dest: chat.Destination{ChatID: cfg.Telegram.ChatID},
		Text: StartupMessage(cfg, engines),
	})
}

// ensurePendingTopics creates forum topics for folders added while the
// bridge was down or via admin commands.
func (b *Bridge) ensurePendingTopics(ctx context.Context) {
	if b.createTopic == nil {
		return
	}
	cfg := b.manager.Config()
	if cfg.Telegram.ChatID == 0 {
		return
	}
	for _, name := range b.manager.PendingFolders() {
		topicID, err := b.createTopic(ctx, cfg.Telegram.ChatID, name)
		if err != nil {
			b.log.Error("create topic for folder", zap.String("folder", name), zap.Error(err))
			continue
		}
		if err := b.manager.SetTopicID(name, topicID); err != nil {
			b.log.Error("bind topic to folder", zap.String("folder", name), zap.Error(err))
			continue
		}
		b.log.Info("created topic", zap.String("folder", name), zap.Int64("topic", topicID))
		b.sender.SendAsync(chat.Outgoing{
			Dest: chat.Destination{ChatID: cfg.Telegram.ChatID, TopicID: topicID},
			Text: fmt.Sprintf("this topic is bound to %s", name),
		})
	}
}

// dispatch routes one batch: a notice for unbound topics, commands, or an
// engine turn.
func (b *Bridge) dispatch(ctx context.Context, batch Batch) {
	cfg := b.manager.Config()
	route := cfg.Route(batch.TopicID, batch.Text, batch.ReplyToText)

	if route.IsUnboundTopic {
		b.notify(batch.Dest, "this topic is not bound to a folder; use the General topic or /add")
		return
	}
	if route.IsSlash {
		b.handleSlash(ctx, cfg, route, batch)
		return
	}
	if route.PromptText == "" && batch.ReplyToText == "" {
		return
	}
	b.submitTurn(ctx, cfg, route, batch, "")
}

func (b *Bridge) isEngine(name string) bool {
	for _, id := range b.router.Engines() {
		if string(id) == name {
			return true
		}
	}
	return false
}

func (b *Bridge) notify(dest chat.Destination, text string) {
	b.sender.SendAsync(chat.Outgoing{Dest: dest, Text: text})
}

func (b *Bridge) handleSlash(ctx context.Context, cfg *Config, route Route, batch Batch) {
	switch route.Command {
	case "cancel":
		b.notify(batch.Dest, b.cancelTurn(batch))
		return
	case "ralph":
		b.notify(batch.Dest, b.startRalph(ctx, cfg, route, batch))
		return
	}

	// A slash command naming an engine forces the turn onto it:
	// "/claude fix the tests" runs claude regardless of the default.
	if b.isEngine(route.Command) {
		b.submitTurn(ctx, cfg, route, batch, model.EngineID(route.Command))
		return
	}

	if reply, handled := b.commands.Handle(ctx, route.Command, route.CommandArgs); handled {
		b.notify(batch.Dest, reply)
		b.ensurePendingTopics(ctx)
		return
	}

	// External command plugins get a shot before we give up.
	if cmd, err := plugin.LoadCommand(route.Command); err == nil {
		reply, err := cmd.Handle(ctx, plugin.CommandRequest{
			Command: route.Command,
			Args:    route.CommandArgs,
			Folder:  route.FolderName,
			TopicID: batch.TopicID,
		})
		if err != nil {
			reply = fmt.Sprintf("/%s failed: %v", route.Command, err)
		}
		b.notify(batch.Dest, reply)
		return
	}
	b.notify(batch.Dest, fmt.Sprintf("unknown command /%s; try /help", route.Command))
}

// cancelTurn cancels a running turn: the one whose progress message the
// /cancel replies to, or failing that whatever runs in the topic.
func (b *Bridge) cancelTurn(batch Batch) string {
	loopStopped := b.ralph.CancelTopic(batch.TopicID)
	b.mu.Lock()
	task, ok := b.running[batch.TopicID]
	if batch.ReplyTo != nil {
		for _, t := range b.running {
			if t.progress == *batch.ReplyTo {
				task, ok = t, true
				break
			}
		}
	}
	b.mu.Unlock()
	if !ok {
		if loopStopped {
			return "ralph loop cancelled"
		}
		return "nothing is running in this topic"
	}
	task.cancel()
	if loopStopped {
		return fmt.Sprintf("ralph loop cancelled; stopping the %s turn", task.engine)
	}
	return fmt.Sprintf("cancelling the %s turn", task.engine)
}

// handleCallback processes inline button presses: currently only ralph
// loop cancellation.
func (b *Bridge) handleCallback(ctx context.Context, cb chat.Callback) {
	topicID, loopID, ok := ParseCancelData(cb.Data)
	if !ok {
		return
	}
	if !b.ralph.Cancel(topicID, loopID) {
		return
	}
	// Stop the in-flight iteration too.
	b.mu.Lock()
	task, running := b.running[topicID]
	b.mu.Unlock()
	if running {
		task.cancel()
	}
	b.notify(cb.Dest, "ralph loop cancelled")
}

// RunInfo describes one in-flight turn for the status API.
type RunInfo struct {
	TopicID   int64     `json:"topic_id"`
	Engine    string    `json:"engine"`
	Folder    string    `json:"folder,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Runs lists the in-flight turns.
func (b *Bridge) Runs() []RunInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RunInfo, 0, len(b.running))
	for _, t := range b.running {
		out = append(out, RunInfo{
			TopicID:   t.topicID,
			Engine:    string(t.engine),
			Folder:    t.folder,
			StartedAt: t.startedAt,
		})
	}
	return out
}

// RunningSummaries implements StatusSource for /status.
func (b *Bridge) RunningSummaries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.running))
	for _, t := range b.running {
		where := t.folder
		if where == "" {
			where = "workspace"
		}
		out = append(out, fmt.Sprintf("topic %d: %s in %s (%s)",
			t.topicID, t.engine, where, time.Since(t.startedAt).Round(time.Second)))
	}
	return out
}

// workDir resolves where a turn runs: a branch directive gets a worktree
// checkout, a folder topic its folder, General the workspace root.
func (b *Bridge) workDir(ctx context.Context, cfg *Config, route Route) (string, error) {
	if route.Folder == nil {
		return cfg.Root, nil
	}
	repoPath := cfg.FolderPath(route.Folder)
	if route.Branch == "" {
		return repoPath, nil
	}
	return b.worktrees.Ensure(ctx, repoPath, cfg.Workspace.WorktreesDir, route.Branch, cfg.Workspace.WorktreeBase)
}

// submitTurn resolves the engine and queues the turn on its thread key.
// forced pins the engine when a slash command named one.
func (b *Bridge) submitTurn(ctx context.Context, cfg *Config, route Route, batch Batch, forced model.EngineID) {
	var res router.Resolution
	var err error
	if forced != "" {
		res, err = b.router.ResolveWith(forced, route.PromptText, batch.ReplyToText)
	} else {
		res, err = b.router.Resolve(route.PromptText, batch.ReplyToText)
	}
	if err != nil {
		b.notify(batch.Dest, err.Error())
		return
	}

	// Replying to a running turn's progress message queues behind that
	// turn and resumes its session once it completes.
	var pinned *runningTask
	if batch.ReplyTo != nil {
		b.mu.Lock()
		for _, t := range b.running {
			if t.progress == *batch.ReplyTo {
				pinned = t
				break
			}
		}
		b.mu.Unlock()
	}

	key := threadKeyFor(res, pinned, batch.TopicID)
	ok := b.sched.Submit(key, func(jobCtx context.Context) {
		if pinned != nil && res.Resume == nil {
			res.Resume = pinned.latestResume()
		}
		b.runTurn(jobCtx, cfg, route, batch, res, key)
	})
	if !ok {
		b.notify(batch.Dest, "shutting down; message not accepted")
	}
}

func threadKeyFor(res router.Resolution, pinned *runningTask, topicID int64) string {
	if pinned != nil {
		return pinned.threadKey
	}
	if res.Resume != nil {
		return scheduler.ThreadKey(res.Resume.Engine, res.Resume.Value)
	}
	return fmt.Sprintf("topic:%d", topicID)
}

// runTurn drives one engine turn: progress message, subprocess execution
// with throttled progress edits, and the final in-place answer. It returns
// the session token the turn ended on.
func (b *Bridge) runTurn(ctx context.Context, cfg *Config, route Route, batch Batch, res router.Resolution, threadKey string) *model.ResumeToken {
	releaseBusy := b.sched.NoteBusy(threadKey)
	defer releaseBusy()

	engine := res.Runner.Engine()
	prompt := res.Prompt
	if route.IsGeneral && res.Resume == nil {
		prompt = WithPreamble(cfg, prompt)
	}

	dir, err := b.workDir(ctx, cfg, route)
	if err != nil {
		b.notify(batch.Dest, fmt.Sprintf("preparing the working directory failed: %v", err))
		return res.Resume
	}

	tracker := progress.NewTracker(engine)
	tracker.SetResume(res.Resume)
	resumeFormat := res.Runner.Resume().Format
	rctx := presenter.RunContext{Folder: route.FolderName, Branch: route.Branch}
	start := time.Now()

	replyTo := chat.MessageRef{ChatID: batch.Dest.ChatID, MessageID: batch.LastMessageID}
	ref, err := b.sender.Send(ctx, chat.Outgoing{
		Dest:    batch.Dest,
		Text:    b.present.RenderProgress(tracker.Snapshot(resumeFormat), rctx, 0, presenter.StatusRunning),
		Markup:  b.markup,
		ReplyTo: &replyTo,
	})
	if err != nil {
		b.log.Error("send progress message", zap.Error(err))
		return res.Resume
	}

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	task := &runningTask{
		topicID:   batch.TopicID,
		engine:    engine,
		folder:    route.FolderName,
		threadKey: threadKey,
		startedAt: start,
		progress:  ref,
		cancel:    cancelTurn,
	}
	task.setResume(res.Resume)
	b.mu.Lock()
	b.running[batch.TopicID] = task
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.running[batch.TopicID] == task {
			delete(b.running, batch.TopicID)
		}
		b.mu.Unlock()
	}()

	b.publish(ctx, bus.SubjectTurnStarted, map[string]any{
		"engine": string(engine),
		"topic":  batch.TopicID,
		"folder": route.FolderName,
	})

	// Once the engine announces its session, gate that session's thread
	// key so a follow-up carrying the just-learned resume line queues
	// behind this turn instead of running beside it.
	var releaseSession func()
	defer func() {
		if releaseSession != nil {
			releaseSession()
		}
	}()

	var lastEdit time.Time
	emit := func(ev model.Event) {
		changed := tracker.NoteEvent(ev)
		if st, ok := ev.(model.StartedEvent); ok {
			task.setResume(&st.Resume)
			if key := scheduler.ThreadKey(st.Engine, st.Resume.Value); key != threadKey && releaseSession == nil {
				releaseSession = b.sched.NoteBusy(key)
			}
		}
		if !changed || time.Since(lastEdit) < b.progressEvery {
			return
		}
		lastEdit = time.Now()
		b.sender.EditAsync(ref,
			b.present.RenderProgress(tracker.Snapshot(resumeFormat), rctx, time.Since(start), presenter.StatusRunning),
			b.markup, nil)
	}

	executor := runner.NewExecutor(res.Runner, b.locks, b.log)
	completed, err := executor.Run(turnCtx, runner.Request{
		Prompt: prompt,
		Resume: res.Resume,
		Dir:    dir,
	}, emit)
	if err != nil {
		b.log.Error("engine run failed", zap.String("engine", string(engine)), zap.Error(err))
		completed = model.CompletedEvent{Engine: engine, OK: false, Error: err.Error()}
	}

	resumeTok := progress.SyncResume(tracker, completed.Resume)
	task.setResume(resumeTok)

	status := presenter.StatusDone
	switch {
	case completed.OK:
	case turnCtx.Err() != nil:
		status = presenter.StatusCancelled
	default:
		status = presenter.StatusFailed
	}

	answer := completed.Answer
	if answer != "" {
		answer = runner.StripAll(answer, []*runner.ResumeSyntax{res.Runner.Resume()})
	}
	if answer == "" {
		if completed.Error != "" {
			answer = completed.Error
		} else {
			answer = "(no output)"
		}
	}

	final := b.present.RenderFinal(tracker.Snapshot(resumeFormat), rctx, answer, status)
	if err := b.sender.Edit(ctx, ref, final, b.markup, nil); err != nil {
		// Editing can fail when the progress message was removed or aged
		// out; fall back to a fresh message.
		b.sender.SendAsync(chat.Outgoing{Dest: batch.Dest, Text: final, Markup: b.markup, ReplyTo: &replyTo})
		b.sender.DeleteAsync(ref)
	}

	b.publish(ctx, bus.SubjectTurnCompleted, map[string]any{
		"engine":   string(engine),
		"topic":    batch.TopicID,
		"folder":   route.FolderName,
		"ok":       completed.OK,
		"duration": time.Since(start).Seconds(),
	})
	return resumeTok
}

// startRalph launches an iterating loop in the topic.
func (b *Bridge) startRalph(ctx context.Context, cfg *Config, route Route, batch Batch) string {
	if !cfg.Workers.Ralph.Enabled {
		return "ralph is disabled; enable [workers.ralph] in workspace.toml"
	}
	if b.ralph.Running(batch.TopicID) {
		return "a ralph loop is already running in this topic"
	}

	prompt, maxIter := parseRalphArgs(route.PromptText, cfg.RalphMaxIterations())
	if prompt == "" {
		return "usage: /ralph <prompt> [--max-iterations N]"
	}
	loopID, err := b.ralph.Start(ctx, batch.TopicID, prompt, maxIter, func(turnCtx context.Context, it RalphIteration) (*model.ResumeToken, bool, error) {
		return b.ralphTurn(turnCtx, cfg, route, batch, it)
	})
	if err != nil {
		return err.Error()
	}

	b.sender.SendAsync(chat.Outgoing{
		Dest: batch.Dest,
		Text: fmt.Sprintf("ralph loop started (up to %d iterations)", maxIter),
		Keyboard: [][]chat.Button{
			{{Text: "Cancel", Data: CancelData(batch.TopicID, loopID)}},
		},
	})
	return fmt.Sprintf("iterating on: %s", prompt)
}

// parseRalphArgs strips a --max-iterations flag out of the loop prompt.
func parseRalphArgs(text string, defaultMax int) (prompt string, maxIter int) {
	maxIter = defaultMax
	fields := strings.Fields(text)
	kept := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "--max-iterations" && i+1 < len(fields):
			if n, err := strconv.Atoi(fields[i+1]); err == nil && n > 0 {
				maxIter = n
				i++
				continue
			}
		case strings.HasPrefix(f, "--max-iterations="):
			if n, err := strconv.Atoi(strings.TrimPrefix(f, "--max-iterations=")); err == nil && n > 0 {
				maxIter = n
				continue
			}
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " "), maxIter
}

// ralphTurn runs one loop iteration through the scheduler so user
// messages on the topic queue behind it.
func (b *Bridge) ralphTurn(ctx context.Context, cfg *Config, route Route, batch Batch, it RalphIteration) (*model.ResumeToken, bool, error) {
	res, err := b.router.Resolve(it.Prompt, "")
	if err != nil {
		return nil, true, err
	}
	res.Resume = it.Resume
	res.Prompt = fmt.Sprintf("iteration %d: %s", it.Iteration, it.Prompt)

	key := fmt.Sprintf("topic:%d", it.TopicID)
	done := make(chan *model.ResumeToken, 1)
	ok := b.sched.Submit(key, func(jobCtx context.Context) {
		runCtx, cancel := context.WithCancel(jobCtx)
		defer cancel()
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()
		done <- b.runTurn(runCtx, cfg, route, batch, res, key)
	})
	if !ok {
		return nil, true, fmt.Errorf("scheduler is shut down")
	}

	select {
	case tok := <-done:
		if ctx.Err() != nil {
			return tok, true, nil
		}
		return tok, false, nil
	case <-ctx.Done():
		return nil, true, nil
	}
}

func (b *Bridge) publish(ctx context.Context, subject string, data map[string]any) {
	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(ctx, subject, bus.NewEvent(subject, "bridge", data)); err != nil {
		b.log.Warn("publish bus event", zap.String("subject", subject), zap.Error(err))
	}
}
