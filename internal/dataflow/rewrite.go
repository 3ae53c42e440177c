package dataflow

import (
	"context"
	"log/slog"

	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// rewrite applies the module's aspect references to every call of method
// and commits the result. It reports whether a new body was committed. Any
// failure leaves the original body in effect.
func (e *Engine) rewrite(ctx context.Context, entry *moduleEntry, method *metadata.Method) (bool, error) {
	ma := e.moduleAspects(ctx, entry)
	if len(ma.references) == 0 {
		return false, nil
	}
	ctx, release := entry.module.Guard().Enter(ctx)
	defer release()

	s, err := method.Rewriter()
	if err != nil {
		method.DiscardRewriter()
		slog.WarnContext(ctx, "Method body not decoded, skipping",
			slog.String("method", method.Key()),
			slog.String("error", err.Error()))
		return false, nil
	}

	// A written or pending body already carries helper calls.
	instrumented := method.IsWritten() || method.HasChanged()
	if instrumented {
		// Import every helper so that calls to them are recognized.
		for _, ref := range ma.references {
			_, _ = ref.Helper()
		}
	}

	changed := false
	for h := s.First(); h != il.Nil; h = s.Next(h) {
		in := s.At(h)
		if !in.Op.IsCall() || in.IsNew() {
			continue
		}
		operand := in.Token()
		if instrumented && ma.isHelper(operand) {
			method.DiscardRewriter()
			slog.DebugContext(ctx, "Method already instrumented, skipping",
				slog.String("method", method.Key()))
			return false, nil
		}

		for _, ref := range ma.candidates(operand) {
			next, applied, err := ref.Apply(method, s, h)
			if err != nil {
				method.DiscardRewriter()
				slog.WarnContext(ctx, "Aspect not applied, skipping method",
					slog.String("method", method.Key()),
					slog.String("aspect", ref.String()),
					slog.String("error", err.Error()))
				return false, err
			}
			if applied {
				changed = true
				method.InvalidateAnalysis()
				slog.DebugContext(ctx, "Aspect applied",
					slog.String("method", method.FullName()),
					slog.String("aspect", ref.String()))
				h = next
				break
			}
		}
	}

	if !changed {
		method.DiscardRewriter()
		return false, nil
	}
	committed, err := method.CommitRewriter()
	if err != nil {
		slog.ErrorContext(ctx, "Rewritten method rejected, keeping original body",
			slog.String("method", method.Key()),
			slog.String("error", err.Error()))
		return false, err
	}
	if committed {
		slog.InfoContext(ctx, "Method instrumented", slog.String("method", method.Key()))
	}
	return committed, nil
}
