package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type trace struct {
	calls []string
}

func record(name string, res Result) Command[*trace] {
	return Named(name, func(_ context.Context, tr *trace) Result {
		tr.calls = append(tr.calls, name)
		return res
	})
}

func TestSkipStopsChainWithoutError(t *testing.T) {
	ch := New[*trace]("test", zerolog.Nop(),
		record("A", Skip("nothing to do")),
		record("B", Continue()),
		record("C", Continue()),
	)
	tr := &trace{}
	out := Run[*trace](context.Background(), ch, tr)
	if out.Err != nil {
		t.Fatalf("не ожидали ошибку: %v", out.Err)
	}
	if !out.Skipped || out.Reason != "nothing to do" {
		t.Fatalf("ожидали пропуск с причиной, получили %+v", out)
	}
	if len(tr.calls) != 1 || tr.calls[0] != "A" {
		t.Fatalf("B и C не должны выполняться: %v", tr.calls)
	}
}

func TestNestedSkipContinuesParent(t *testing.T) {
	inner := New[*trace]("inner", zerolog.Nop(),
		record("inner-1", Skip("skip inner")),
		record("inner-2", Continue()),
	)
	outer := New[*trace]("outer", zerolog.Nop(),
		record("before", Continue()),
		inner,
		record("after", Continue()),
	)
	tr := &trace{}
	out := Run[*trace](context.Background(), outer, tr)
	if out.Err != nil || out.Skipped {
		t.Fatalf("ожидали обычное завершение, получили %+v", out)
	}
	want := []string{"before", "inner-1", "after"}
	if len(tr.calls) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, tr.calls)
	}
	for i := range want {
		if tr.calls[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, tr.calls)
		}
	}
}

func TestFatalPropagatesThroughNesting(t *testing.T) {
	cause := errors.New("db down")
	inner := New[*trace]("inner", zerolog.Nop(), record("boom", Fatal(cause)), record("never", Continue()))
	outer := New[*trace]("outer", zerolog.Nop(), inner, record("after", Continue()))

	tr := &trace{}
	out := Run[*trace](context.Background(), outer, tr)
	if out.Err == nil {
		t.Fatalf("ожидали фатальную ошибку")
	}
	if !IsFatal(out.Err) {
		t.Fatalf("ожидали FatalError, получили %T", out.Err)
	}
	if !errors.Is(out.Err, cause) {
		t.Fatalf("причина потеряна: %v", out.Err)
	}
	var fe *FatalError
	if errors.As(out.Err, &fe) && fe.Command != "boom" {
		t.Fatalf("ожидали имя команды boom, получили %q", fe.Command)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("после Fatal ничего не должно выполняться: %v", tr.calls)
	}
}

func TestCancelledContextStopsBetweenCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := Named("cancel", func(_ context.Context, tr *trace) Result {
		tr.calls = append(tr.calls, "cancel")
		cancel()
		return Continue()
	})
	ch := New[*trace]("ctx", zerolog.Nop(), first, record("second", Continue()))

	tr := &trace{}
	out := Run[*trace](ctx, ch, tr)
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", out.Err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("вторая команда не должна выполняться: %v", tr.calls)
	}
}

func TestRunPlainCommand(t *testing.T) {
	cmd := CommandFunc[*trace](func(context.Context, *trace) Result { return Skipf("age %d", 3) })
	out := Run[*trace](context.Background(), cmd, &trace{})
	if !out.Skipped || out.Reason != "age 3" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestFatalNilCause(t *testing.T) {
	res := Fatal(nil)
	if !res.IsFatal() || res.Err() == nil {
		t.Fatalf("Fatal(nil) должен давать ошибку")
	}
}
