package oracle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/me/mowctt/internal/dzn"
	"github.com/me/mowctt/pkg/model"
)

// Files exchanged with the analyser, inside the oracle work directory.
const (
	SolutionFile      = "solution.dzn"
	InputTopologyFile = "input_topology.csv"
	OutputReportFile  = "output_wctt.csv"
)

// reportPreamble is the number of lines preceding the CSV header in an
// analysis report.
const reportPreamble = 5

// WCTTConfig configures the worst-case traversal time oracle.
type WCTTConfig struct {
	Java         string // defaults to "java"
	Analyser     string // pegase-timing-analysis.jar
	Converter    string // dzn2topology
	Topology     string // network topology of the instance
	Data         string // instance data file, prepended to every solution
	WorkDir      string
	Precision    int           // analysis precision sent to the analyser, defaults to 1
	StartTimeout time.Duration // how long to wait for the analyser port, defaults to 30s
}

// WCTT checks solutions with the Pegase worst-case traversal time analysis.
// The analyser runs as a server for the whole run: for each solution the
// oracle writes the analyser input, asks for an analysis over TCP and reads
// the report back.
type WCTT struct {
	cfg       WCTTConfig
	dir       string
	data      []byte
	conflicts *Conflicts

	proc   *exec.Cmd
	output *lockedBuffer
	conn   net.Conn
	reader *bufio.Reader

	logger *slog.Logger
}

// StartWCTT starts the analyser server and connects to it.
func StartWCTT(ctx context.Context, cfg WCTTConfig, conflicts *Conflicts, logger *slog.Logger) (*WCTT, error) {
	if cfg.Java == "" {
		cfg.Java = "java"
	}
	if cfg.Precision == 0 {
		cfg.Precision = 1
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	data, err := os.ReadFile(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("read instance data: %w", err)
	}
	if cfg.WorkDir != "" {
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(cfg.WorkDir, "wctt-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	w := &WCTT{
		cfg:       cfg,
		dir:       dir,
		data:      data,
		conflicts: conflicts,
		output:    &lockedBuffer{},
		logger:    logger.With("component", "wctt"),
	}
	if err := w.start(ctx); err != nil {
		w.Close()
		return nil, err
	}
	w.logger.Info("analyser started", "dir", dir)
	return w, nil
}

func (w *WCTT) start(ctx context.Context) error {
	w.proc = exec.Command(w.cfg.Java, "-jar", w.cfg.Analyser,
		filepath.Join(w.dir, InputTopologyFile), filepath.Join(w.dir, OutputReportFile))
	w.proc.Dir = w.dir
	w.proc.Stderr = w.output
	stdout, err := w.proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("analyser stdout: %w", err)
	}
	if err := w.proc.Start(); err != nil {
		return &ToolError{Tool: w.cfg.Java, Err: err}
	}

	// The analyser prints its port on the first line of its output.
	lines := bufio.NewReader(stdout)
	type portLine struct {
		line string
		err  error
	}
	ready := make(chan portLine, 1)
	go func() {
		line, err := lines.ReadString('\n')
		ready <- portLine{line, err}
		io.Copy(w.output, lines)
	}()
	var first portLine
	select {
	case first = <-ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.cfg.StartTimeout):
		return &ToolError{Tool: "pegase", Err: errors.New("timed out waiting for the analyser port"), Output: w.output.String()}
	}
	port, err := strconv.Atoi(strings.TrimSpace(first.line))
	if err != nil {
		if first.err != nil {
			err = first.err
		}
		return &ToolError{Tool: "pegase", Err: fmt.Errorf("read port: %w", err), Output: w.output.String()}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return &ToolError{Tool: "pegase", Err: fmt.Errorf("connect: %w", err), Output: w.output.String()}
	}
	w.conn = conn
	w.reader = bufio.NewReader(conn)
	w.logger.Debug("connected to analyser", "port", port)
	return nil
}

// Dir returns the work directory.
func (w *WCTT) Dir() string { return w.dir }

// Check analyses sol and rejects it when some communication misses its
// deadline.
func (w *WCTT) Check(ctx context.Context, sol *model.Solution) (model.Verdict, error) {
	solution, err := w.writeSolution(sol.Assignment)
	if err != nil {
		return model.Verdict{}, err
	}
	if err := w.convert(ctx, solution); err != nil {
		return model.Verdict{}, err
	}
	if err := w.analyse(ctx); err != nil {
		return model.Verdict{}, err
	}
	f, err := os.Open(filepath.Join(w.dir, OutputReportFile))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("open analysis report: %w", err)
	}
	defer f.Close()
	violations, err := ParseReport(f)
	if err != nil {
		return model.Verdict{}, err
	}
	for _, v := range violations {
		w.logger.Debug("deadline missed", "service", v.Name, "routing", v.Routing, "slack_ms", v.Slack)
	}
	return w.conflicts.Verdict(violations, sol.Assignment)
}

// writeSolution writes the instance data followed by the solution
// variables, one assignment per line.
func (w *WCTT) writeSolution(a model.Assignment) (string, error) {
	var b bytes.Buffer
	b.Write(w.data)
	if len(w.data) > 0 && w.data[len(w.data)-1] != '\n' {
		b.WriteByte('\n')
	}
	f := dzn.New()
	for _, name := range a.Names() {
		f.Set(name, a[name])
	}
	if _, err := f.WriteTo(&b); err != nil {
		return "", fmt.Errorf("solution to dzn: %w", err)
	}
	path := filepath.Join(w.dir, SolutionFile)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write solution: %w", err)
	}
	return path, nil
}

// convert runs dzn2topology on the solution and stores its output as the
// analyser input.
func (w *WCTT) convert(ctx context.Context, solution string) error {
	cmd := exec.CommandContext(ctx, w.cfg.Converter, w.cfg.Topology, solution)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		te := &ToolError{Tool: filepath.Base(w.cfg.Converter), Err: err, Output: strings.TrimSpace(stdout.String() + "\n" + stderr.String())}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		return te
	}
	if err := os.WriteFile(filepath.Join(w.dir, InputTopologyFile), stdout.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write topology: %w", err)
	}
	return nil
}

// analyse asks the analyser server for one analysis and waits for it.
func (w *WCTT) analyse(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		w.conn.SetDeadline(deadline)
	} else {
		w.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { w.conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := fmt.Fprintf(w.conn, "%d\n", w.cfg.Precision); err != nil {
		return w.analyserError(ctx, fmt.Errorf("send request: %w", err))
	}
	reply, err := w.reader.ReadString('\n')
	if err != nil {
		return w.analyserError(ctx, fmt.Errorf("read reply: %w", err))
	}
	if reply != "done\n" {
		return w.analyserError(ctx, fmt.Errorf("unexpected reply %q", reply))
	}
	return nil
}

func (w *WCTT) analyserError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ToolError{Tool: "pegase", Err: err, Output: w.output.String()}
}

// Close stops the analyser and removes the work directory.
func (w *WCTT) Close() error {
	var errs []error
	if w.conn != nil {
		errs = append(errs, w.conn.Close())
	}
	if w.proc != nil && w.proc.Process != nil {
		w.proc.Process.Kill()
		w.proc.Wait()
	}
	errs = append(errs, os.RemoveAll(w.dir))
	return errors.Join(errs...)
}

// ParseReport reads an analysis report: a preamble, then a `;`-separated
// table with at least the Name, Routing, Receiver and Slack(ms) columns.
// Rows with a negative slack are returned; an empty slack marks best-effort
// traffic without deadline.
func ParseReport(r io.Reader) ([]Violation, error) {
	br := bufio.NewReader(r)
	for i := 0; i < reportPreamble; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("%w: preamble: %v", ErrBadReport, err)
		}
	}
	cr := csv.NewReader(br)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadReport, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, name := range []string{"Name", "Routing", "Receiver", "Slack(ms)"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", ErrBadReport, name)
		}
	}
	field := func(rec []string, name string) string {
		if i := cols[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []Violation
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadReport, err)
		}
		s := field(rec, "Slack(ms)")
		if s == "" {
			continue
		}
		slack, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: slack %q of %s", ErrBadReport, s, field(rec, "Name"))
		}
		if slack < 0 {
			out = append(out, Violation{
				Name:     field(rec, "Name"),
				Routing:  field(rec, "Routing"),
				Receiver: field(rec, "Receiver"),
				Slack:    slack,
			})
		}
	}
}

// lockedBuffer collects the analyser output written by several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
