package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memLog struct {
	event Event
	topic Topic
}

type memReceipt struct {
	receipt Receipt
	err     error
}

// Memory is an in-process ledger with real simulate/submit/confirm semantics:
// simulation never mutates, a submitted write is mined into its own block,
// and duplicate ids are rejected like the contracts do.
type Memory struct {
	mu       sync.Mutex
	block    uint64
	txSeq    uint64
	records  map[EntityKind]map[string]Record
	order    map[EntityKind][]string
	logs     []memLog
	receipts map[string]memReceipt
	calls    map[string]int
	closed   bool

	simulateHook func(Call) error
	submitHook   func(Call) error
	confirmHook  func(TxHandle) error
	noAggregate  map[EntityKind]bool
	noIndexed    bool
	failLookup   map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		records:     map[EntityKind]map[string]Record{},
		order:       map[EntityKind][]string{},
		receipts:    map[string]memReceipt{},
		calls:       map[string]int{},
		noAggregate: map[EntityKind]bool{},
		failLookup:  map[string]bool{},
	}
}

// OnSimulate installs a hook; a non-nil return rejects the simulation.
func (m *Memory) OnSimulate(fn func(Call) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateHook = fn
}

// OnSubmit installs a hook; a non-nil return fails Submit before anything is mined.
func (m *Memory) OnSubmit(fn func(Call) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitHook = fn
}

// OnConfirm installs a hook; a non-nil return is handed back from AwaitConfirmation.
func (m *Memory) OnConfirm(fn func(TxHandle) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmHook = fn
}

func (m *Memory) DisableAggregate(kinds ...EntityKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range kinds {
		m.noAggregate[k] = true
	}
}

func (m *Memory) DisableIndexedEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noIndexed = true
}

// FailLookup makes GetByID fail for the given ids.
func (m *Memory) FailLookup(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.failLookup[id] = true
	}
}

// Seed writes records directly into one new block, emitting their events.
func (m *Memory) Seed(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block++
	for i, r := range records {
		m.applyLocked(r, uint(i), "")
	}
}

// Reemit appends another event for an existing record, as a re-delivered or re-scanned log would.
func (m *Memory) Reemit(kind EntityKind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block++
	spec, _ := kind.Spec()
	m.logs = append(m.logs, memLog{
		event: Event{Kind: kind, ID: id, BlockNumber: m.block},
		topic: TopicOf(spec.EventSignature()),
	})
}

// Calls counts invocations per operation name ("simulate", "submit", method names).
func (m *Memory) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// Len is the number of stored records of kind.
func (m *Memory) Len(kind EntityKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[kind])
}

func (m *Memory) applyLocked(r Record, logIndex uint, txHash string) bool {
	kind := r.RecordKind()
	if m.records[kind] == nil {
		m.records[kind] = map[string]Record{}
	}
	if _, exists := m.records[kind][r.RecordID()]; exists {
		return false
	}
	m.records[kind][r.RecordID()] = r
	m.order[kind] = append(m.order[kind], r.RecordID())
	spec, _ := kind.Spec()
	m.logs = append(m.logs, memLog{
		event: Event{Kind: kind, ID: r.RecordID(), BlockNumber: m.block, LogIndex: logIndex, TxHash: txHash},
		topic: TopicOf(spec.EventSignature()),
	})
	return true
}

func (m *Memory) validateLocked(call Call) error {
	if m.closed {
		return ErrUnavailable
	}
	if call.Record == nil || call.Record.RecordID() == "" {
		return fmt.Errorf("%w: empty record", ErrRejected)
	}
	if _, ok := call.Kind().Spec(); !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrRejected, call.Kind())
	}
	return nil
}

func (m *Memory) Simulate(ctx context.Context, call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["simulate"]++
	if err := m.validateLocked(call); err != nil {
		return err
	}
	if m.simulateHook != nil {
		if err := m.simulateHook(call); err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	if _, exists := m.records[call.Kind()][call.Record.RecordID()]; exists {
		return fmt.Errorf("%w: %s %s already recorded", ErrRejected, call.Kind(), call.Record.RecordID())
	}
	return nil
}

func (m *Memory) Submit(ctx context.Context, call Call) (TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["submit"]++
	m.calls[call.Method()]++
	if m.submitHook != nil {
		if err := m.submitHook(call); err != nil {
			return TxHandle{}, err
		}
	}
	if err := m.validateLocked(call); err != nil {
		return TxHandle{}, err
	}
	m.txSeq++
	m.block++
	hash := fmt.Sprintf("0x%064x", m.txSeq)
	receipt := Receipt{TxHash: hash, BlockNumber: m.block, BlockHash: fmt.Sprintf("0x%064x", m.block)}
	var rerr error
	if !m.applyLocked(call.Record, 0, hash) {
		// mined but reverted
		rerr = fmt.Errorf("%w: transaction %s reverted", ErrRejected, hash)
	}
	m.receipts[hash] = memReceipt{receipt: receipt, err: rerr}
	return TxHandle{Kind: call.Kind(), Network: call.Kind().Network(), Hash: hash, SubmittedAt: time.Now().UTC()}, nil
}

func (m *Memory) AwaitConfirmation(ctx context.Context, h TxHandle) (Receipt, error) {
	m.mu.Lock()
	hook := m.confirmHook
	rec, ok := m.receipts[h.Hash]
	m.mu.Unlock()
	if hook != nil {
		if err := hook(h); err != nil {
			return Receipt{}, err
		}
	}
	if !ok {
		return Receipt{}, fmt.Errorf("%w: receipt %s", ErrNotFound, h.Hash)
	}
	return rec.receipt, rec.err
}

func (m *Memory) GetAggregate(ctx context.Context, kind EntityKind) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["aggregate"]++
	if m.closed {
		return nil, ErrUnavailable
	}
	if m.noAggregate[kind] {
		return nil, ErrUnsupported
	}
	out := make([]Record, 0, len(m.order[kind]))
	for _, id := range m.order[kind] {
		out = append(out, m.records[kind][id])
	}
	return out, nil
}

func (m *Memory) GetByID(ctx context.Context, kind EntityKind, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["get"]++
	if m.closed {
		return nil, ErrUnavailable
	}
	if m.failLookup[id] {
		return nil, fmt.Errorf("%w: lookup %s", ErrUnavailable, id)
	}
	r, ok := m.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return r, nil
}

func (m *Memory) ScanEvents(ctx context.Context, kind EntityKind, fromBlock uint64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["events"]++
	if m.closed {
		return nil, ErrUnavailable
	}
	if m.noIndexed {
		return nil, ErrUnsupported
	}
	var out []Event
	for _, l := range m.logs {
		if l.event.Kind == kind && l.event.BlockNumber >= fromBlock {
			out = append(out, l.event)
		}
	}
	return out, nil
}

func (m *Memory) ScanRawLogs(ctx context.Context, kind EntityKind, fromBlock uint64, topic Topic) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["raw"]++
	if m.closed {
		return nil, ErrUnavailable
	}
	var out []Event
	for _, l := range m.logs {
		if l.topic == topic && l.event.BlockNumber >= fromBlock {
			e := l.event
			e.Kind = kind
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
