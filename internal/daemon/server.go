// Package daemon is the long-lived background service: a unix-socket RPC
// server over the memory graph plus the 5-minute maintenance tick that
// applies decay, prunes dead bridges, and enforces the thread quota.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vthunder/plexus/internal/classify"
	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/consolidate"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/extract"
	"github.com/vthunder/plexus/internal/gossip"
	"github.com/vthunder/plexus/internal/inject"
	"github.com/vthunder/plexus/internal/llm"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/memory"
	"github.com/vthunder/plexus/internal/retrieve"
	"github.com/vthunder/plexus/internal/share"
	"github.com/vthunder/plexus/internal/state"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/suggest"
)

const (
	// TickInterval is the maintenance cadence
	TickInterval = 300 * time.Second
	// RequestTimeout bounds one dispatch, LLM calls included
	RequestTimeout = 30 * time.Second
	// DrainDeadline bounds in-flight requests at shutdown
	DrainDeadline = 5 * time.Second
	// MaxWorkers bounds concurrent request handlers
	MaxWorkers = 8
)

// Server is one daemon process for one project
type Server struct {
	paths store.Paths
	store *store.Store

	cfgMu sync.RWMutex
	cfg   config.Config

	manager      *memory.Manager
	classifier   *classify.Classifier
	propagator   *gossip.Propagator
	ranker       *retrieve.Ranker
	injector     *inject.Builder
	consolidator *consolidate.Consolidator
	analyzer     *suggest.Analyzer
	exchange     *share.Exchange
	heartbeat    *state.HeartbeatFile
	focus        *state.FocusFile
	rules        *state.RulesFile

	listener     net.Listener
	sem          chan struct{}
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	stopOnce     sync.Once
	startTime    time.Time
	tickRunning  atomic.Bool
	watcher      *config.Watcher
}

// New opens the store and wires every subsystem. The daemon owns all
// mutation paths; CLI reads go straight to disk.
func New(root string) (*Server, error) {
	st, err := store.Open(root)
	if err != nil {
		return nil, err
	}
	paths := st.Paths()

	cfg, err := config.Load(paths.Config())
	if err != nil {
		logging.Warn("daemon", "config unreadable, using defaults: %v", err)
	}

	hb, err := state.OpenHeartbeat(paths.Heartbeat())
	if err != nil {
		return nil, err
	}
	focus, err := state.OpenFocus(paths.Focus())
	if err != nil {
		return nil, err
	}
	rules, err := state.OpenRules(paths.UserRules())
	if err != nil {
		return nil, err
	}

	client := llm.NewCLI(cfg.LLM, root)
	embedder := embedding.New(cfg.LLM.EmbeddingURL, cfg.LLM.EmbeddingModel, 0)
	extractor := extract.New(client)
	classifier := classify.New(client)
	manager := memory.New(st, embedder, extractor, classifier)
	propagator := gossip.New(st, client)
	manager.SetNotifier(propagator)
	ranker := retrieve.NewRanker(st, embedder)

	s := &Server{
		paths:        paths,
		store:        st,
		cfg:          cfg,
		manager:      manager,
		classifier:   classifier,
		propagator:   propagator,
		ranker:       ranker,
		consolidator: consolidate.New(st, client, manager),
		analyzer:     suggest.New(st),
		exchange:     share.New(st, cfg.ProjectName),
		heartbeat:    hb,
		focus:        focus,
		rules:        rules,
		sem:          make(chan struct{}, MaxWorkers),
		shutdownChan: make(chan struct{}),
		startTime:    time.Now(),
	}
	s.injector = inject.New(st, ranker, hb, focus, rules, s.Config)
	return s, nil
}

// Config returns a snapshot of the live configuration
func (s *Server) Config() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Run serves until a signal or shutdown op arrives. It claims the
// pidfile, binds the socket user-only, starts the maintenance ticker and
// the config watcher, then accepts requests.
func (s *Server) Run() error {
	if err := writePIDFile(s.paths.PIDFile(), s.paths.Socket()); err != nil {
		return err
	}
	defer os.Remove(s.paths.PIDFile())

	os.Remove(s.paths.Socket())
	ln, err := net.Listen("unix", s.paths.Socket())
	if err != nil {
		return err
	}
	s.listener = ln
	os.Chmod(s.paths.Socket(), 0600)
	defer os.Remove(s.paths.Socket())

	if w, err := config.Watch(s.paths.Config(), s.onConfigChange); err == nil {
		s.watcher = w
	} else {
		logging.Warn("daemon", "config watcher unavailable: %v", err)
	}

	go s.tickLoop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info("daemon", "signal %v, shutting down", sig)
			s.Stop()
		case <-s.shutdownChan:
		}
	}()

	logging.Info("daemon", "listening on %s (pid %d)", s.paths.Socket(), os.Getpid())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
				s.drain()
				return nil
			default:
				logging.Warn("daemon", "accept: %v", err)
				continue
			}
		}
		select {
		case s.sem <- struct{}{}:
		case <-s.shutdownChan:
			conn.Close()
			s.drain()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			s.handleConn(conn)
		}()
	}
}

// Stop initiates shutdown: stop accepting, stop ticking
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdownChan)
		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// drain waits for in-flight requests up to the soft deadline
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DrainDeadline):
		logging.Warn("daemon", "drain deadline hit, exiting with requests in flight")
	}
}

// handleConn reads one frame, dispatches, writes one reply. A handler
// panic is reported as an error reply, never a daemon crash.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(RequestTimeout + DrainDeadline))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		logging.Debug("daemon", "read frame: %v", err)
		return
	}

	var req Request
	var reply Reply
	if err := json.Unmarshal(line, &req); err != nil {
		reply = errorReply("invalid_state", "malformed request frame")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
		reply = s.dispatchSafe(ctx, req)
		cancel()
	}

	frame, err := json.Marshal(reply)
	if err != nil {
		logging.Warn("daemon", "marshal reply: %v", err)
		return
	}
	conn.Write(append(frame, '\n'))
}

// onConfigChange applies hot-reloadable settings from a rewritten
// config.json.
func (s *Server) onConfigChange(cfg config.Config) {
	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()
	if old.Settings.ThreadMode != cfg.Settings.ThreadMode {
		logging.Info("daemon", "thread mode %s -> %s (quota %d)",
			old.Settings.ThreadMode, cfg.Settings.ThreadMode, cfg.Quota())
		s.manager.EnforceQuota(cfg.Quota())
	}
	if old.Language != cfg.Language {
		logging.Info("daemon", "language %s -> %s", old.Language, cfg.Language)
	}
}
