// Package chain реализует цепочку команд с коротким замыканием.
//
// Команда возвращает Result одного из трёх видов: Continue, Skip или Fatal.
// Skip останавливает текущую цепочку, но родительская цепочка продолжает работу
// со следующей команды. Fatal прерывает выполнение на всех уровнях вложенности.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"stream-recommender/internal/infra/metrics"
)

type kind int

const (
	kindContinue kind = iota
	kindSkip
	kindFatal
)

// Result — итог выполнения команды.
type Result struct {
	kind   kind
	reason string
	err    error
}

// Continue сообщает, что цепочка может идти дальше.
func Continue() Result { return Result{kind: kindContinue} }

// Skip останавливает текущую цепочку без ошибки.
func Skip(reason string) Result { return Result{kind: kindSkip, reason: reason} }

// Skipf — Skip с форматированием причины.
func Skipf(format string, args ...any) Result {
	return Skip(fmt.Sprintf(format, args...))
}

// Fatal прерывает обработку на всех уровнях.
func Fatal(err error) Result {
	if err == nil {
		err = errors.New("fatal result without cause")
	}
	var fe *FatalError
	if !errors.As(err, &fe) {
		err = &FatalError{Err: err}
	}
	return Result{kind: kindFatal, err: err}
}

// IsContinue сообщает, что результат — Continue.
func (r Result) IsContinue() bool { return r.kind == kindContinue }

// IsSkip сообщает, что результат — Skip.
func (r Result) IsSkip() bool { return r.kind == kindSkip }

// IsFatal сообщает, что результат — Fatal.
func (r Result) IsFatal() bool { return r.kind == kindFatal }

// Reason возвращает причину пропуска.
func (r Result) Reason() string { return r.reason }

// Err возвращает *FatalError для Fatal и nil в остальных случаях.
func (r Result) Err() error { return r.err }

// FatalError оборачивает причину фатального результата.
type FatalError struct {
	Command string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Command == "" {
		return "fatal: " + e.Err.Error()
	}
	return fmt.Sprintf("fatal in %s: %v", e.Command, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal проверяет, содержит ли цепочка ошибок FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Command — единица обработки контекста C.
type Command[C any] interface {
	Process(ctx context.Context, c C) Result
}

// CommandFunc адаптирует функцию к Command.
type CommandFunc[C any] func(ctx context.Context, c C) Result

// Process вызывает функцию.
func (f CommandFunc[C]) Process(ctx context.Context, c C) Result { return f(ctx, c) }

// Namer позволяет команде представиться в логах.
type Namer interface {
	Name() string
}

type namedCommand[C any] struct {
	name string
	fn   CommandFunc[C]
}

func (n namedCommand[C]) Process(ctx context.Context, c C) Result { return n.fn(ctx, c) }
func (n namedCommand[C]) Name() string                             { return n.name }

// Named создаёт команду с именем из функции.
func Named[C any](name string, fn func(ctx context.Context, c C) Result) Command[C] {
	return namedCommand[C]{name: name, fn: fn}
}

func commandName(cmd any) string {
	if n, ok := cmd.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", cmd)
}

// Chain выполняет команды в порядке добавления и сама является командой.
type Chain[C any] struct {
	name     string
	log      zerolog.Logger
	commands []Command[C]
}

// New создаёт цепочку.
func New[C any](name string, logger zerolog.Logger, commands ...Command[C]) *Chain[C] {
	return &Chain[C]{
		name:     name,
		log:      logger.With().Str("chain", name).Logger(),
		commands: append([]Command[C](nil), commands...),
	}
}

// Add дописывает команды в конец цепочки.
func (ch *Chain[C]) Add(commands ...Command[C]) *Chain[C] {
	ch.commands = append(ch.commands, commands...)
	return ch
}

// Name возвращает имя цепочки.
func (ch *Chain[C]) Name() string { return ch.name }

// Len возвращает число команд.
func (ch *Chain[C]) Len() int { return len(ch.commands) }

// Process выполняет цепочку как вложенную команду: Skip гасится на этом уровне.
func (ch *Chain[C]) Process(ctx context.Context, c C) Result {
	res := ch.processRaw(ctx, c)
	if res.IsSkip() {
		return Continue()
	}
	return res
}

func (ch *Chain[C]) processRaw(ctx context.Context, c C) Result {
	for _, cmd := range ch.commands {
		if err := ctx.Err(); err != nil {
			return Fatal(&FatalError{Command: ch.name, Err: err})
		}
		res := cmd.Process(ctx, c)
		switch res.kind {
		case kindFatal:
			var fe *FatalError
			if errors.As(res.err, &fe) && fe.Command == "" {
				fe.Command = commandName(cmd)
			}
			return res
		case kindSkip:
			name := commandName(cmd)
			ch.log.Debug().Str("command", name).Str("reason", res.reason).Msg("chain: command skipped")
			metrics.ChainCommandsSkipped.WithLabelValues(ch.name).Inc()
			return res
		}
	}
	return Continue()
}

type rawProcessor[C any] interface {
	processRaw(ctx context.Context, c C) Result
}

// Outcome — итог запуска верхнего уровня.
type Outcome struct {
	Skipped bool
	Reason  string
	Err     error
}

// Run запускает команду верхнего уровня и переводит результат в Outcome.
// Для цепочки пропуск сохраняется в отчёте.
func Run[C any](ctx context.Context, cmd Command[C], c C) Outcome {
	var res Result
	if raw, ok := cmd.(rawProcessor[C]); ok {
		res = raw.processRaw(ctx, c)
	} else {
		res = cmd.Process(ctx, c)
	}
	return Outcome{Skipped: res.IsSkip(), Reason: res.reason, Err: res.err}
}
