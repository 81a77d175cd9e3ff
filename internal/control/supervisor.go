// Package control implements the Supervisor surface (spec §6):
// startWorker, stopWorker, workerStatus over one process-wide registry
// of per-wallet WalletWorkers, plus an HTTP handler exposing that
// surface. Grounded on internal/app/lambda/runtime.Manager's
// id-keyed instance registry and start/stop/snapshot methods, adapted
// from lambda instances to wallet workers. Each worker's Run loop is
// owned by its own conc.WaitGroup, matching internal/lambda/
// base_lambda.go's consume method — Go(...) plus Wait() standing in
// for the bare goroutine-plus-done-channel a stdlib-only version would
// need, and surfacing a worker panic through Wait() instead of
// crashing the process silently.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/worker"
)

var (
	// ErrWalletNotFound is returned when an unknown walletId is addressed.
	ErrWalletNotFound = errors.New("wallet not registered")
	// ErrAlreadyRunning is returned by StartWorker on a running wallet.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrNotRunning is returned by StopWorker on a stopped wallet.
	ErrNotRunning = errors.New("worker not running")
)

type managedWorker struct {
	worker *worker.Worker
	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

// Supervisor owns the process's wallet workers and exposes
// startWorker/stopWorker/workerStatus, independent of however a
// dashboard or CLI chooses to drive it.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*managedWorker
	logger  *log.Logger
}

// NewSupervisor constructs an empty Supervisor. Register must be
// called once per wallet before StartWorker can launch it.
func NewSupervisor(logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &Supervisor{
		workers: make(map[string]*managedWorker),
		logger:  logger,
	}
}

// Register makes a constructed but not-yet-running worker addressable
// by wallet ID. Called once at startup for every enabled wallet.
func (s *Supervisor) Register(walletID string, w *worker.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[walletID] = &managedWorker{worker: w}
}

// StartWorker launches the registered worker's Run loop in its own
// goroutine if it is not already running.
func (s *Supervisor) StartWorker(ctx context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mw, ok := s.workers[walletID]
	if !ok {
		return fmt.Errorf("%s: %w", walletID, ErrWalletNotFound)
	}
	if mw.cancel != nil {
		return fmt.Errorf("%s: %w", walletID, ErrAlreadyRunning)
	}

	runCtx, cancel := context.WithCancel(ctx)
	wg := &conc.WaitGroup{}
	mw.cancel = cancel
	mw.wg = wg

	wg.Go(func() {
		if err := mw.worker.Run(runCtx); err != nil {
			s.logger.Printf("wallet %s worker exited: %v", walletID, err)
		}
	})
	return nil
}

// StopWorker cancels the worker's run context. With graceful set it
// also blocks until Run has returned (WalletWorker unwinds through its
// own STOPPING state on cancellation); otherwise it returns as soon as
// the context is cancelled, without waiting for Run.
func (s *Supervisor) StopWorker(walletID string, graceful bool) error {
	s.mu.Lock()
	mw, ok := s.workers[walletID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", walletID, ErrWalletNotFound)
	}
	if mw.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", walletID, ErrNotRunning)
	}
	cancel := mw.cancel
	wg := mw.wg
	mw.cancel = nil
	mw.wg = nil
	s.mu.Unlock()

	cancel()
	if graceful {
		wg.Wait()
	}
	return nil
}

// WorkerStatus returns the current status report for a registered
// wallet, per spec §6's workerStatus(walletId).
func (s *Supervisor) WorkerStatus(walletID string) (domain.WorkerStatus, error) {
	s.mu.Lock()
	mw, ok := s.workers[walletID]
	s.mu.Unlock()
	if !ok {
		return domain.WorkerStatus{}, fmt.Errorf("%s: %w", walletID, ErrWalletNotFound)
	}
	return mw.worker.Report(), nil
}

// WalletIDs returns every registered wallet ID, for listing.
func (s *Supervisor) WalletIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}
