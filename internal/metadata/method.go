package metadata

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/analysis"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

// State is the instrumentation progress of a method.
type State int

// Method states
const (
	StateUnprocessed State = iota
	StateProcessed
	StateInstrumented
	StateNotInstrumented
)

func (s State) String() string {
	switch s {
	case StateUnprocessed:
		return "unprocessed"
	case StateProcessed:
		return "processed"
	case StateInstrumented:
		return "instrumented"
	case StateNotInstrumented:
		return "not-instrumented"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Method is a method definition together with its instrumentation state.
//
// A method moves from unprocessed to processed when the engine first looks
// at it, then to instrumented when a rewrite is committed or to
// not-instrumented when nothing changed or the rewrite was rejected. Written
// is set once the committed body has been handed to the host.
type Method struct {
	*Member
	module *Module

	excludedOnce sync.Once
	excluded     bool

	mu       sync.Mutex
	state    State
	written  bool
	original []byte
	// body is the committed rewrite, held until applied or discarded.
	body []byte
	// rejit is the body snapshot used while a recompilation is in progress.
	rejit    []byte
	rewriter *il.Store
	analysis *analysis.Analysis
}

func newMethod(m *Module, member *Member) *Method {
	return &Method{Member: member, module: m}
}

// Module returns the declaring module.
func (m *Method) Module() *Module {
	return m.module
}

// IsExcluded reports whether the method is left alone. The verdict is
// computed once from the full name.
func (m *Method) IsExcluded() bool {
	m.excludedOnce.Do(func() {
		if m.module.methodExcluded != nil {
			m.excluded = m.module.methodExcluded(m.FullName())
		}
	})
	return m.excluded
}

// State returns the instrumentation state.
func (m *Method) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsProcessed reports whether the engine already looked at the method.
func (m *Method) IsProcessed() bool {
	return m.State() != StateUnprocessed
}

// TrySetProcessed marks an unprocessed method as processed. It reports false
// when another caller got there first.
func (m *Method) TrySetProcessed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnprocessed {
		return false
	}
	m.state = StateProcessed
	return true
}

// IsWritten reports whether a rewritten body was handed to the host.
func (m *Method) IsWritten() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// HasChanged reports whether a committed rewrite is waiting to be applied.
func (m *Method) HasChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body != nil
}

// HasTemporaryBuffer reports whether the method holds a body buffer of its
// own: a committed rewrite or a recompilation snapshot.
func (m *Method) HasTemporaryBuffer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body != nil || m.rejit != nil
}

// IsInlineEnabled reports whether callers may inline the method. Methods with
// a pending rewrite must not be inlined.
func (m *Method) IsInlineEnabled() bool {
	return !m.HasChanged()
}

// Key identifies the method and its state in logs.
func (m *Method) Key() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	b.WriteString(m.FullName())
	b.WriteString(m.ParamsRepresentation())
	b.WriteString("@")
	b.WriteString(m.module.Name)
	b.WriteString(" [")
	b.WriteString(m.state.String())
	if m.body != nil {
		b.WriteString(",changed")
	}
	if m.written {
		b.WriteString(",written")
	}
	b.WriteString("]")
	return b.String()
}

// MethodSignature returns the method's own signature, or nil when it does not
// parse.
func (m *Method) MethodSignature() *sig.Signature {
	s, err := m.Signature()
	if err != nil {
		return nil
	}
	return s
}

// DeclaringType returns the TypeDef that declares the method.
func (m *Method) DeclaringType() cil.Token {
	return m.Parent
}

// MemberSignature returns the signature of a member referenced by the body.
func (m *Method) MemberSignature(tok cil.Token) (*sig.Signature, error) {
	return m.module.Signature(tok)
}

// SignatureBlob returns the blob of a stand-alone signature referenced by the
// body.
func (m *Method) SignatureBlob(tok cil.Token) ([]byte, error) {
	return m.module.SignatureBlob(tok)
}

// MethodIL returns the body to rewrite: the committed rewrite or the
// recompilation snapshot when present, else the host's current body. With
// original set it returns the body as first seen by the engine.
func (m *Method) MethodIL(original bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.methodIL(original)
}

func (m *Method) methodIL(original bool) ([]byte, error) {
	if !original {
		if m.body != nil {
			return m.body, nil
		}
		if m.rejit != nil {
			return m.rejit, nil
		}
	}
	if original && m.original != nil {
		return m.original, nil
	}
	body, err := m.module.bodies.MethodBody(m.Token)
	if err != nil {
		return nil, m.module.fail(m.Token, m.FullName(), err)
	}
	if m.original == nil {
		m.original = append([]byte(nil), body...)
	}
	return body, nil
}

// Rewriter returns the editable body, decoding it on first use. The store
// belongs to the caller until CommitRewriter or DiscardRewriter.
func (m *Method) Rewriter() (*il.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rewriter != nil {
		return m.rewriter, nil
	}
	body, err := m.methodIL(false)
	if err != nil {
		return nil, err
	}
	s, err := il.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", m.FullName(), err)
	}
	m.rewriter = s
	return s, nil
}

// Analysis returns the stack analysis of the editable body, computing it on
// first use.
func (m *Method) Analysis() (*analysis.Analysis, error) {
	s, err := m.Rewriter()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analysis == nil {
		m.analysis = analysis.Analyze(s, m)
	}
	return m.analysis, nil
}

// InvalidateAnalysis drops the cached analysis after the body was edited.
func (m *Method) InvalidateAnalysis() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysis = nil
}

// DiscardRewriter drops the editable body without committing it.
func (m *Method) DiscardRewriter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewriter = nil
	m.analysis = nil
	if m.body == nil {
		m.state = StateNotInstrumented
	}
}

// CommitRewriter encodes the editable body and commits it with SetMethodIL.
// It reports whether a new body was committed.
func (m *Method) CommitRewriter() (bool, error) {
	m.mu.Lock()
	s := m.rewriter
	m.rewriter = nil
	m.analysis = nil
	m.mu.Unlock()
	if s == nil {
		return false, nil
	}
	body, changed, err := s.Encode()
	if err != nil {
		m.setState(StateNotInstrumented)
		return false, fmt.Errorf("failed to encode %s: %w", m.FullName(), err)
	}
	if !changed {
		m.setState(StateNotInstrumented)
		return false, nil
	}
	if err := m.SetMethodIL(body, nil); err != nil {
		return false, err
	}
	return m.HasChanged(), nil
}

func (m *Method) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SetMethodIL commits a rewritten body. A body equal to the original is
// ignored. When verification is enabled the body is decoded and stack
// analyzed first; a body that fails is discarded and the original stays in
// effect. With fc set the body is handed over immediately.
func (m *Method) SetMethodIL(body []byte, fc FunctionControl) error {
	m.mu.Lock()
	m.written = false
	m.body = nil
	original, err := m.methodIL(true)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if bytes.Equal(body, original) {
		m.setState(StateNotInstrumented)
		return nil
	}

	if m.module.verify || m.module.dump {
		if err := m.verifyBody(body); err != nil {
			m.setState(StateNotInstrumented)
			slog.Error("Rewritten method body failed verification",
				slog.String("method", m.FullName()),
				slog.String("module", m.module.Name),
				slog.String("error", err.Error()))
			if m.module.verify {
				return err
			}
		}
	}

	m.mu.Lock()
	m.body = append([]byte(nil), body...)
	m.state = StateInstrumented
	m.mu.Unlock()
	slog.Debug("Committed rewritten method body",
		slog.String("method", m.FullName()),
		slog.String("original_size", humanize.Bytes(uint64(len(original)))),
		slog.String("size", humanize.Bytes(uint64(len(body)))))

	if fc != nil {
		return m.ApplyFinalInstrumentation(fc)
	}
	return nil
}

func (m *Method) verifyBody(body []byte) error {
	s, err := il.Decode(body)
	if err != nil {
		return &VerificationError{Method: m.FullName(), Err: err}
	}
	a := analysis.Analyze(s, m)
	if m.module.dump {
		var listing strings.Builder
		if err := a.Dump(&listing, m.module); err == nil {
			slog.Debug("Rewritten method body",
				slog.String("method", m.FullName()),
				slog.String("listing", listing.String()))
		}
	}
	if !a.IsValid() {
		return &VerificationError{Method: m.FullName(), Err: a.Err()}
	}
	return nil
}

// ApplyFinalInstrumentation hands the committed body to the host: to fc when
// the method is being recompiled, or directly otherwise. The buffer is freed
// afterwards. A body is never applied twice without an intervening commit.
func (m *Method) ApplyFinalInstrumentation(fc FunctionControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.body == nil {
		if m.written {
			return fmt.Errorf("%s: %w", m.FullName(), ErrAlreadyWritten)
		}
		return fmt.Errorf("%s: %w", m.FullName(), ErrNothingToApply)
	}
	if fc != nil {
		if err := fc.SetILFunctionBody(m.body); err != nil {
			return fmt.Errorf("failed to set body of %s: %w", m.FullName(), err)
		}
	} else {
		if m.written {
			slog.Warn("Method body already written, skipping reinstrumentation",
				slog.String("method", m.FullName()))
			return fmt.Errorf("%s: %w", m.FullName(), ErrAlreadyWritten)
		}
		if err := m.module.bodies.SetMethodBody(m.Token, m.body); err != nil {
			return fmt.Errorf("failed to set body of %s: %w", m.FullName(), err)
		}
	}
	m.written = true
	m.body = nil
	return nil
}

// ReJITCompilationStarted snapshots the original body as the starting point
// of the recompilation.
func (m *Method) ReJITCompilationStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, err := m.methodIL(true)
	if err != nil {
		return err
	}
	m.rejit = append([]byte(nil), original...)
	return nil
}

// ReJITCompilationFinished frees the recompilation snapshot.
func (m *Method) ReJITCompilationFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejit = nil
}
