package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/aymanbagabas/go-udiff"
	"golang.org/x/sync/errgroup"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/cil/analysis"
	"github.com/isseis/go-iast-weaver/internal/cil/il"
	"github.com/isseis/go-iast-weaver/internal/dataflow"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/metadata"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

type methodKey struct {
	module metadata.ModuleID
	token  cil.Token
}

type stats struct {
	Modules      int
	Methods      int
	Instrumented int
	Failed       int
	BytesBefore  int
	BytesAfter   int
}

// weaver replays the host notifications of a process loading every module of
// an image and compiling every method once.
type weaver struct {
	engine *dataflow.Engine
	host   *host.MemoryHost
	img    *host.Image

	modules []*metadata.Module
	before  map[methodKey][]byte
	order   []methodKey
}

func newWeaver(engine *dataflow.Engine, h *host.MemoryHost, img *host.Image) *weaver {
	return &weaver{
		engine: engine,
		host:   h,
		img:    img,
		before: make(map[methodKey][]byte),
	}
}

// load announces app domains and modules in image order.
func (w *weaver) load() error {
	domains := map[metadata.AppDomainID]bool{}
	for _, info := range w.host.Modules() {
		if !domains[info.AppDomain] {
			domains[info.AppDomain] = true
			w.engine.AppDomainCreated(info.AppDomain, w.img.DomainName(info.AppDomain))
		}
		m, err := w.engine.ModuleLoaded(info)
		if err != nil {
			return fmt.Errorf("failed to load module %s: %w", info.Name, err)
		}
		w.modules = append(w.modules, m)
	}
	return nil
}

// instrument compiles every method concurrently, then serves the
// recompilations the engine requested. A method that fails is logged and
// counted; only cancellation stops the run.
func (w *weaver) instrument(ctx context.Context) (stats, error) {
	st := stats{Modules: len(w.modules)}
	var mu sync.Mutex
	fail := func(key methodKey, err error) {
		slog.Warn("Method not instrumented",
			slog.Int("module", int(key.module)),
			slog.String("method", key.token.String()),
			slog.String("error", err.Error()))
		mu.Lock()
		st.Failed++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, m := range w.modules {
		mm, err := w.host.Module(m.ID)
		if err != nil {
			return st, err
		}
		for _, tok := range mm.Methods() {
			key := methodKey{module: m.ID, token: tok}
			body, err := mm.MethodBody(tok)
			if err != nil {
				return st, err
			}
			w.before[key] = body
			w.order = append(w.order, key)
			st.Methods++

			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := w.engine.JITCompilationStarted(gctx, key.module, key.token); err != nil {
					fail(key, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	for id, toks := range w.host.TakeReJITRequests() {
		for _, tok := range toks {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			if err := w.rejit(ctx, id, tok); err != nil {
				fail(methodKey{module: id, token: tok}, err)
			}
		}
	}

	for _, key := range w.order {
		after, err := w.body(key)
		if err != nil {
			return st, err
		}
		st.BytesBefore += len(w.before[key])
		st.BytesAfter += len(after)
		if !bytes.Equal(after, w.before[key]) {
			st.Instrumented++
		}
	}
	return st, nil
}

func (w *weaver) rejit(ctx context.Context, id metadata.ModuleID, tok cil.Token) error {
	if err := w.engine.ReJITCompilationStarted(id, tok); err != nil {
		return err
	}
	fc := &host.FunctionControl{}
	err := w.engine.GetReJITParameters(ctx, id, tok, fc)
	if finishErr := w.engine.ReJITCompilationFinished(id, tok); err == nil {
		err = finishErr
	}
	if err != nil {
		return err
	}
	if body := fc.Body(); body != nil {
		mm, err := w.host.Module(id)
		if err != nil {
			return err
		}
		return mm.SetMethodBody(tok, body)
	}
	return nil
}

func (w *weaver) body(key methodKey) ([]byte, error) {
	mm, err := w.host.Module(key.module)
	if err != nil {
		return nil, err
	}
	return mm.MethodBody(key.token)
}

// writeDiffs prints a unified diff of the listing of every changed method.
func (w *weaver) writeDiffs(out io.Writer, palette *terminal.Palette) error {
	for _, key := range w.order {
		after, err := w.body(key)
		if err != nil {
			return err
		}
		if bytes.Equal(after, w.before[key]) {
			continue
		}
		m, err := w.engine.Module(key.module)
		if err != nil {
			return err
		}
		name := key.token.String()
		if method, err := m.MethodInfo(key.token); err == nil {
			name = method.FullName() + method.ParamsRepresentation()
		}

		oldText, err := listing(w.before[key], m)
		if err != nil {
			return err
		}
		newText, err := listing(after, m)
		if err != nil {
			return err
		}
		diff := udiff.Unified(m.Name+": "+name, m.Name+": "+name+" (instrumented)", oldText, newText)
		if _, err := io.WriteString(out, colorDiff(diff, palette)); err != nil {
			return err
		}
	}
	return nil
}

func listing(body []byte, names analysis.Names) (string, error) {
	s, err := il.Decode(body)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := analysis.Dump(&sb, s, names); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func colorDiff(diff string, palette *terminal.Palette) string {
	lines := strings.SplitAfter(diff, "\n")
	var sb strings.Builder
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			sb.WriteString(palette.Header(strings.TrimSuffix(line, "\n")))
		case strings.HasPrefix(line, "+"):
			sb.WriteString(palette.Added(strings.TrimSuffix(line, "\n")))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(palette.Removed(strings.TrimSuffix(line, "\n")))
		default:
			sb.WriteString(strings.TrimSuffix(line, "\n"))
		}
		if strings.HasSuffix(line, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
