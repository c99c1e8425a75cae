package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/zap"

	"github.com/discochess/chessbook/internal/eval"
)

// DefaultEnginePath is the engine binary looked up when none is configured.
const DefaultEnginePath = "stockfish"

// Compile-time check that UCI implements Evaluator.
var _ Evaluator = (*UCI)(nil)

// UCI is an Evaluator backed by an engine process speaking the UCI protocol.
// Calls are serialized; a UCI value is meant to be owned by one Handle.
type UCI struct {
	path         string
	args         []string
	env          []string
	options      map[string]string
	startTimeout time.Duration
	logger       *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}

	// exited is closed once the process has been reaped; waitErr is set
	// before that.
	exited  chan struct{}
	waitErr error

	mu        sync.Mutex
	closeOnce sync.Once
}

// UCIOption configures a UCI evaluator.
type UCIOption func(*UCI)

// WithArgs sets extra command-line arguments for the engine binary.
func WithArgs(args ...string) UCIOption {
	return func(u *UCI) { u.args = args }
}

// WithEnv adds environment variables for the engine process.
func WithEnv(env ...string) UCIOption {
	return func(u *UCI) { u.env = append(u.env, env...) }
}

// WithOption sets a UCI option ("setoption name <name> value <value>").
func WithOption(name, value string) UCIOption {
	return func(u *UCI) { u.options[name] = value }
}

// WithHash sets the engine hash table size in MB.
func WithHash(mb int) UCIOption {
	return WithOption("Hash", strconv.Itoa(mb))
}

// WithThreads sets the number of engine search threads.
func WithThreads(n int) UCIOption {
	return WithOption("Threads", strconv.Itoa(n))
}

// WithStartTimeout bounds the protocol handshake. Default is 10s.
func WithStartTimeout(d time.Duration) UCIOption {
	return func(u *UCI) { u.startTimeout = d }
}

// WithUCILogger sets the logger.
func WithUCILogger(l *zap.Logger) UCIOption {
	return func(u *UCI) { u.logger = l }
}

// NewUCI starts the engine at path and completes the UCI handshake.
func NewUCI(ctx context.Context, path string, opts ...UCIOption) (*UCI, error) {
	u := &UCI{
		path:         path,
		options:      make(map[string]string),
		startTimeout: 10 * time.Second,
		logger:       zap.NewNop(),
		lines:        make(chan string, 256),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}

	u.cmd = exec.Command(u.path, u.args...)
	if len(u.env) > 0 {
		u.cmd.Env = append(os.Environ(), u.env...)
	}
	stdin, err := u.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := u.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := u.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine %s: %w", u.path, err)
	}
	u.stdin = stdin
	go u.readLoop(stdout)

	hsCtx, cancel := context.WithTimeout(ctx, u.startTimeout)
	defer cancel()
	if err := u.handshake(hsCtx); err != nil {
		u.kill()
		return nil, fmt.Errorf("engine handshake: %w", err)
	}

	u.logger.Debug("engine started",
		zap.String("path", u.path),
		zap.Int("pid", u.cmd.Process.Pid),
	)
	return u, nil
}

// UCIFactory returns a Factory that starts UCI engines.
func UCIFactory(path string, opts ...UCIOption) Factory {
	return func(ctx context.Context) (Evaluator, error) {
		return NewUCI(ctx, path, opts...)
	}
}

// Evaluate searches pos with the given budget.
// On timeout or cancellation the process is killed, since its state is
// unknown; the owner is expected to start a fresh engine.
func (u *UCI) Evaluate(ctx context.Context, pos *chess.Position, budget Budget) (eval.Score, error) {
	if s, ok := Terminal(pos); ok {
		return s, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.send("position fen "+pos.String(), budget.goCommand()); err != nil {
		return eval.Score{}, err
	}

	var (
		score eval.Score
		found bool
	)
	for {
		line, err := u.next(ctx)
		if err != nil {
			return eval.Score{}, err
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if s, ok := parseInfoScore(line); ok {
				score, found = s, true
			}
		case strings.HasPrefix(line, "bestmove"):
			if !found {
				return eval.Score{}, fmt.Errorf("%w: bestmove without score", ErrProtocol)
			}
			if pos.Turn() == chess.Black {
				score = score.Negate()
			}
			return score, nil
		}
	}
}

// Close asks the engine to quit and kills it if it does not exit promptly.
func (u *UCI) Close() error {
	u.closeOnce.Do(func() {
		// Ignore write errors; the process may already be gone.
		_ = u.send("quit")
		select {
		case <-u.exited:
		case <-time.After(time.Second):
			u.kill()
		}
	})
	return nil
}

// Exited reports whether the process has terminated.
func (u *UCI) Exited() bool {
	select {
	case <-u.exited:
		return true
	default:
		return false
	}
}

func (u *UCI) handshake(ctx context.Context) error {
	if err := u.send("uci"); err != nil {
		return err
	}
	if err := u.waitFor(ctx, "uciok"); err != nil {
		return err
	}

	names := make([]string, 0, len(u.options))
	for name := range u.options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := u.send(fmt.Sprintf("setoption name %s value %s", name, u.options[name])); err != nil {
			return err
		}
	}

	if err := u.send("ucinewgame", "isready"); err != nil {
		return err
	}
	return u.waitFor(ctx, "readyok")
}

func (u *UCI) waitFor(ctx context.Context, token string) error {
	for {
		line, err := u.next(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == token {
			return nil
		}
	}
}

// next returns the next output line, or an error once ctx is done or the
// process has exited.
func (u *UCI) next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-u.lines:
		if !ok {
			<-u.exited
			return "", fmt.Errorf("%w: %v", ErrCrashed, exitReason(u.waitErr))
		}
		return line, nil
	case <-ctx.Done():
		u.kill()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return "", ctx.Err()
	}
}

func (u *UCI) send(cmds ...string) error {
	for _, c := range cmds {
		if _, err := io.WriteString(u.stdin, c+"\n"); err != nil {
			return fmt.Errorf("%w: writing %q: %v", ErrCrashed, c, err)
		}
	}
	return nil
}

func (u *UCI) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case u.lines <- scanner.Text():
		case <-u.done:
			// Killed; drain until EOF so Wait can return.
		}
	}
	close(u.lines)
	u.waitErr = u.cmd.Wait()
	close(u.exited)
}

func (u *UCI) kill() {
	select {
	case <-u.done:
		return
	default:
		close(u.done)
	}
	if u.cmd.Process != nil {
		_ = u.cmd.Process.Kill()
	}
	u.stdin.Close()
}

func exitReason(err error) string {
	if err == nil {
		return "exited"
	}
	return err.Error()
}

// parseInfoScore extracts the score of the principal line from an
// "info ... score cp N" or "info ... score mate N" line. Bound scores and
// secondary lines are ignored.
func parseInfoScore(line string) (eval.Score, bool) {
	fields := strings.Fields(line)
	var (
		score eval.Score
		found bool
	)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "string":
			return eval.Score{}, false
		case "multipv":
			if i+1 < len(fields) && fields[i+1] != "1" {
				return eval.Score{}, false
			}
		case "lowerbound", "upperbound":
			return eval.Score{}, false
		case "pv":
			// Moves follow; nothing left to parse.
			return score, found
		case "score":
			if i+2 >= len(fields) {
				return eval.Score{}, false
			}
			n, err := strconv.Atoi(fields[i+2])
			if err != nil {
				return eval.Score{}, false
			}
			switch fields[i+1] {
			case "cp":
				score, found = eval.CP(n), true
			case "mate":
				if n == 0 {
					// Side to move is mated.
					score = eval.CP(-eval.MateValue)
				} else {
					score = eval.MateIn(n)
				}
				found = true
			default:
				return eval.Score{}, false
			}
			i += 2
		}
	}
	return score, found
}
