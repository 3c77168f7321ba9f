// Package rng is an in-memory randomness service. Requests are stamped with
// the tick they were made in and resolve asynchronously: a caller (a test,
// the simulator, or the auto-fulfil option) later fulfils or fails them.
package rng

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	// ErrUnknownRequest is returned for handles that were never issued.
	ErrUnknownRequest = errors.New("unknown randomness request")

	// ErrNotReady is returned when reading the value of an unresolved or
	// failed request.
	ErrNotReady = errors.New("randomness not ready")

	// ErrResolved is returned when resolving a request twice.
	ErrResolved = errors.New("randomness request already resolved")
)

// Ticker supplies the current scheduling tick.
type Ticker interface {
	Tick() uint64
}

// Status is the lifecycle of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

type request struct {
	tick   uint64
	status Status
	value  *uint256.Int
}

// Service issues strictly increasing handles starting at 1. Safe for
// concurrent use.
type Service struct {
	mu sync.Mutex

	ticker      Ticker
	seed        []byte
	autoFulfill bool

	next     uint64
	lost     uint64
	requests map[uint64]*request
}

// Option configures a Service.
type Option func(*Service)

// WithSeed sets the seed values are derived from.
func WithSeed(seed []byte) Option {
	return func(s *Service) {
		s.seed = append([]byte(nil), seed...)
	}
}

// WithAutoFulfill resolves every request as soon as it is made.
func WithAutoFulfill() Option {
	return func(s *Service) {
		s.autoFulfill = true
	}
}

// WithResumeAfter continues numbering after handle n, the last one issued
// by an earlier process. Handles up to n that this Service never issued
// report as failed: their values died with that process.
func WithResumeAfter(n uint64) Option {
	return func(s *Service) {
		s.next = n
		s.lost = n
	}
}

// New creates a Service reading ticks from ticker.
func New(ticker Ticker, opts ...Option) *Service {
	s := &Service{
		ticker:   ticker,
		seed:     []byte("drawkeeper"),
		requests: make(map[uint64]*request),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request issues a new request stamped with the current tick.
func (s *Service) Request(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	handle := s.next
	r := &request{tick: s.ticker.Tick(), status: StatusPending}
	if s.autoFulfill {
		r.status = StatusComplete
		r.value = s.derive(handle)
	}
	s.requests[handle] = r
	return handle, nil
}

// Fulfill completes a pending request with a value derived from the seed
// and the handle.
func (s *Service) Fulfill(handle uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(handle, StatusComplete, s.derive(handle))
}

// FulfillWith completes a pending request with value.
func (s *Service) FulfillWith(handle uint64, value *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(handle, StatusComplete, value.Clone())
}

// Fail marks a pending request as failed.
func (s *Service) Fail(handle uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(handle, StatusFailed, nil)
}

func (s *Service) resolve(handle uint64, status Status, value *uint256.Int) error {
	r, ok := s.requests[handle]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRequest, handle)
	}
	if r.status != StatusPending {
		return fmt.Errorf("%w: %d is %s", ErrResolved, handle, r.status)
	}
	r.status = status
	r.value = value
	return nil
}

// derive returns keccak256(seed || handle) as an integer.
func (s *Service) derive(handle uint64) *uint256.Int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], handle)
	return new(uint256.Int).SetBytes(crypto.Keccak256(s.seed, buf[:]))
}

func (s *Service) lookup(handle uint64) (*request, error) {
	r, ok := s.requests[handle]
	if !ok {
		if handle != 0 && handle <= s.lost {
			return &request{status: StatusFailed}, nil
		}
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, handle)
	}
	return r, nil
}

// RequestedAtTick returns the tick handle was issued in.
func (s *Service) RequestedAtTick(ctx context.Context, handle uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(handle)
	if err != nil {
		return 0, err
	}
	return r.tick, nil
}

// IsComplete reports whether handle has a value.
func (s *Service) IsComplete(ctx context.Context, handle uint64) (bool, error) {
	st, err := s.Status(handle)
	return st == StatusComplete, err
}

// IsFailed reports whether handle failed.
func (s *Service) IsFailed(ctx context.Context, handle uint64) (bool, error) {
	st, err := s.Status(handle)
	return st == StatusFailed, err
}

// Status returns the state of handle.
func (s *Service) Status(handle uint64) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(handle)
	if err != nil {
		return "", err
	}
	return r.status, nil
}

// Value returns the random value of a complete request.
func (s *Service) Value(ctx context.Context, handle uint64) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	if r.status != StatusComplete {
		return nil, fmt.Errorf("%w: %d is %s", ErrNotReady, handle, r.status)
	}
	return r.value.Clone(), nil
}
