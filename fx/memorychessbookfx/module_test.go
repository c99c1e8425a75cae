package memorychessbookfx

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/notnil/chess"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/discochess/chessbook"
	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/store/memstore"
)

type levelEngine struct{}

func (levelEngine) Evaluate(ctx context.Context, pos *chess.Position, budget engine.Budget) (eval.Score, error) {
	return eval.CP(0), nil
}

func (levelEngine) Close() error { return nil }

func TestModule(t *testing.T) {
	var client *chessbook.Client
	var st *memstore.Store
	app := fxtest.New(t,
		fx.Supply(zap.NewNop()),
		Module,
		fx.Populate(&client, &st),
	)
	app.RequireStart()

	if client.Store() != st {
		t.Error("client does not use the provided store")
	}
	if _, err := client.Stats(context.Background()); err != nil {
		t.Errorf("Stats() error = %v", err)
	}

	app.RequireStop()
	if _, err := client.Stats(context.Background()); !errors.Is(err, chessbook.ErrClosed) {
		t.Errorf("Stats() after stop error = %v, want ErrClosed", err)
	}
}

func TestModule_WithEngine(t *testing.T) {
	var client *chessbook.Client
	app := fxtest.New(t,
		fx.Supply(zap.NewNop()),
		fx.Provide(func() engine.Factory {
			return func(ctx context.Context) (engine.Evaluator, error) {
				return levelEngine{}, nil
			}
		}),
		Module,
		fx.Populate(&client),
	)
	app.RequireStart()
	defer app.RequireStop()

	summary, err := client.BuildFrom(context.Background(), strings.NewReader("[Event \"E\"]\n[Result \"*\"]\n\n1. e4 e5 *\n"))
	if err != nil {
		t.Fatalf("BuildFrom() error = %v", err)
	}
	if summary.Analyzed != 1 {
		t.Errorf("Analyzed = %d, want 1", summary.Analyzed)
	}
}
