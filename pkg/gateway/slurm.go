package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/batchcompose/batchcompose/pkg/log"
)

// squeue single-letter state codes, as printed by "squeue -o %t".
var squeueCodes = map[string]JobStatus{
	"PD":  StatusActive,    // queued, waiting for resources
	"R":   StatusActive,    // running
	"RQ":  StatusActive,    // requeued
	"CG":  StatusCompleted, // in the process of completing
	"CD":  StatusCompleted, // completed successfully
	"CA":  StatusCompleted, // cancelled by user or system
	"PR":  StatusPreempted, // terminated by preemption
	"F":   StatusFailed,    // non-zero exit
	"TO":  StatusFailed,    // time limit
	"NF":  StatusFailed,    // node failure
	"BF":  StatusFailed,    // node boot failure
	"DL":  StatusFailed,    // deadline
	"OOM": StatusFailed,    // memory limit
	"S":   StatusFailed,    // suspended
	"ST":  StatusFailed,    // stopped
	"SE":  StatusFailed,    // special exit value
}

// sacct long state names. sacct may append detail ("CANCELLED by 1234")
// or a "+" suffix, so lookups match on the leading word.
var sacctStates = map[string]JobStatus{
	"PENDING":       StatusActive,
	"RUNNING":       StatusActive,
	"REQUEUED":      StatusActive,
	"COMPLETING":    StatusCompleted,
	"COMPLETED":     StatusCompleted,
	"CANCELLED":     StatusCompleted,
	"PREEMPTED":     StatusPreempted,
	"FAILED":        StatusFailed,
	"TIMEOUT":       StatusFailed,
	"NODE_FAIL":     StatusFailed,
	"BOOT_FAIL":     StatusFailed,
	"DEADLINE":      StatusFailed,
	"OUT_OF_MEMORY": StatusFailed,
	"SUSPENDED":     StatusFailed,
}

// stderr fragments that indicate the scheduler controller is unreachable
// rather than the request being bad.
var transientMarkers = []string{
	"timed out",
	"connection refused",
	"unable to contact slurm controller",
	"slurm_load_jobs error",
	"socket error",
	"zero bytes transmitted",
}

// SlurmConfig holds options for the Slurm CLI gateway.
type SlurmConfig struct {
	// ScriptDir is where rendered submission scripts are written before
	// being handed to sbatch. Defaults to the system temp dir.
	ScriptDir string

	// ElevatedQOS, if set, is passed as --qos for elevated-priority
	// submissions (restoring preempted instances).
	ElevatedQOS string

	// AccountingWindow is the --starttime passed to sacct when a job has
	// left the queue. Defaults to "now-30days".
	AccountingWindow string
}

// SlurmGateway talks to a Slurm cluster through its CLI tools: sbatch to
// submit, squeue and sacct to query, scancel to cancel.
type SlurmGateway struct {
	cfg SlurmConfig
}

// NewSlurmGateway creates a gateway backed by the local Slurm CLI tools.
func NewSlurmGateway(cfg SlurmConfig) *SlurmGateway {
	if cfg.AccountingWindow == "" {
		cfg.AccountingWindow = "now-30days"
	}
	return &SlurmGateway{cfg: cfg}
}

// Submit writes the rendered script to a file and hands it to sbatch.
func (g *SlurmGateway) Submit(ctx context.Context, spec SubmitSpec) (string, error) {
	scriptPath, err := g.writeScript(spec)
	if err != nil {
		return "", &TransientError{Op: "submit", Err: err}
	}
	defer os.Remove(scriptPath)

	args := []string{"--parsable"}
	if spec.Priority == PriorityElevated && g.cfg.ElevatedQOS != "" {
		args = append(args, "--qos="+g.cfg.ElevatedQOS)
	}
	args = append(args, scriptPath)

	stdout, stderr, err := runCommand(ctx, "sbatch", args...)
	if err != nil {
		return "", classifyExecError("submit", stderr, err)
	}

	// With --parsable sbatch prints "jobid" or "jobid;cluster".
	handle, _, _ := strings.Cut(strings.TrimSpace(stdout), ";")
	if handle == "" {
		return "", &TransientError{Op: "submit", Err: fmt.Errorf("sbatch returned no job id")}
	}

	logger := log.WithComponent("slurm")
	logger.Debug().
		Str("handle", handle).
		Str("job_name", spec.Name).
		Msg("submitted batch job")
	return handle, nil
}

// QueryStatus checks squeue first for live jobs, then falls back to
// sacct accounting data once the job has left the queue.
func (g *SlurmGateway) QueryStatus(ctx context.Context, handle string) (JobStatus, error) {
	stdout, stderr, err := runCommand(ctx, "squeue", "-j", handle, "-h", "-o", "%t")
	if err != nil && !isUnknownJob(stderr) {
		return "", classifyQueryError("query", stderr, err)
	}

	if code := strings.TrimSpace(stdout); code != "" {
		if status, ok := squeueCodes[code]; ok {
			return status, nil
		}
		return "", &TransientError{Op: "query", Err: fmt.Errorf("unknown squeue state %q", code)}
	}

	// Not in the queue: consult accounting history.
	stdout, stderr, err = runCommand(ctx, "sacct",
		"-j", handle, "-n", "-X", "-o", "State", "--starttime", g.cfg.AccountingWindow)
	if err != nil {
		return "", classifyQueryError("query", stderr, err)
	}

	state := strings.TrimSpace(stdout)
	if state == "" {
		return StatusNotFound, nil
	}
	// First line, leading word, "+" suffix stripped.
	state, _, _ = strings.Cut(state, "\n")
	state, _, _ = strings.Cut(strings.TrimSpace(state), " ")
	state = strings.TrimSuffix(state, "+")
	if status, ok := sacctStates[strings.ToUpper(state)]; ok {
		return status, nil
	}
	return "", &TransientError{Op: "query", Err: fmt.Errorf("unknown sacct state %q", state)}
}

// Cancel runs scancel. A job the scheduler no longer knows counts as
// cancelled.
func (g *SlurmGateway) Cancel(ctx context.Context, handle string) error {
	_, stderr, err := runCommand(ctx, "scancel", handle)
	if err != nil {
		if isUnknownJob(stderr) {
			return nil
		}
		return classifyQueryError("cancel", stderr, err)
	}
	return nil
}

func (g *SlurmGateway) writeScript(spec SubmitSpec) (string, error) {
	dir := g.cfg.ScriptDir
	if dir == "" {
		dir = os.TempDir()
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create script dir: %w", err)
	}

	f, err := os.CreateTemp(dir, spec.Name+"-*.sh")
	if err != nil {
		return "", fmt.Errorf("failed to create script file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(spec.Script); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o755); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to chmod script file: %w", err)
	}
	return f.Name(), nil
}

func runCommand(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// classifyExecError decides whether a failed sbatch invocation can ever
// succeed if retried. A controller that cannot be reached is transient;
// anything Slurm refused outright is a rejection.
func classifyExecError(op, stderr string, err error) error {
	if isTransientStderr(stderr) {
		return &TransientError{Op: op, Err: fmt.Errorf("%s: %w", strings.TrimSpace(stderr), err)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && strings.TrimSpace(stderr) != "" {
		return &RejectedError{Reason: strings.TrimSpace(stderr)}
	}
	return &TransientError{Op: op, Err: err}
}

// classifyQueryError treats every query/cancel failure as transient: a
// status we could not read is not a status.
func classifyQueryError(op, stderr string, err error) error {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return &TransientError{Op: op, Err: fmt.Errorf("%s: %w", msg, err)}
	}
	return &TransientError{Op: op, Err: err}
}

func isTransientStderr(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range transientMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func isUnknownJob(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "invalid job id")
}
