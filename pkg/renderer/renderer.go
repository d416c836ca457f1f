package renderer

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// ResourceProfile describes the scheduler resources one job kind needs.
type ResourceProfile struct {
	Name        string            `yaml:"name"`
	Partition   string            `yaml:"partition"`
	Account     string            `yaml:"account"`
	QOS         string            `yaml:"qos"`
	Nodes       int               `yaml:"nodes"`
	Tasks       int               `yaml:"tasks"`
	CPUsPerTask int               `yaml:"cpus_per_task"`
	GPUs        int               `yaml:"gpus"`
	GPUType     string            `yaml:"gpu_type"`
	MemoryGB    int               `yaml:"memory_gb"`
	TimeLimit   string            `yaml:"time_limit"`
	Constraint  string            `yaml:"constraint"`
	Preemptible bool              `yaml:"preemptible"`
	Extra       map[string]string `yaml:"extra"`
}

// JobTemplate describes what the job runs once scheduled.
type JobTemplate struct {
	Name    string            `yaml:"name"`
	Env     map[string]string `yaml:"env"`
	Setup   []string          `yaml:"setup"`
	Command string            `yaml:"command"`
	Args    map[string]string `yaml:"args"`
}

// Renderer produces concrete submission scripts from a resource profile
// and a job template. It is a pure function of its inputs: no state, no
// side effects.
type Renderer struct{}

// New creates a renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render produces the batch script for one submission. jobName becomes
// the scheduler-visible job name.
func (r *Renderer) Render(profile ResourceProfile, tmpl JobTemplate, jobName string) (string, error) {
	if tmpl.Command == "" {
		return "", fmt.Errorf("template %q has no command", tmpl.Name)
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, d := range directives(profile, jobName) {
		b.WriteString("#SBATCH " + d + "\n")
	}
	b.WriteString("\n")

	for _, k := range sortedKeys(tmpl.Env) {
		b.WriteString(fmt.Sprintf("export %s=%q\n", k, tmpl.Env[k]))
	}
	for _, line := range tmpl.Setup {
		b.WriteString(line + "\n")
	}
	if len(tmpl.Env) > 0 || len(tmpl.Setup) > 0 {
		b.WriteString("\n")
	}

	cmd, err := expandCommand(profile, tmpl)
	if err != nil {
		return "", err
	}
	b.WriteString(cmd + "\n")
	return b.String(), nil
}

// directives builds the #SBATCH header lines for a profile.
func directives(p ResourceProfile, jobName string) []string {
	out := []string{
		fmt.Sprintf("--job-name=%s", jobName),
		"--output=slurm_%j.log",
		"--error=slurm_%j.err",
	}
	nodes := p.Nodes
	if nodes == 0 {
		nodes = 1
	}
	tasks := p.Tasks
	if tasks == 0 {
		tasks = 1
	}
	out = append(out,
		fmt.Sprintf("--nodes=%d", nodes),
		fmt.Sprintf("--ntasks=%d", tasks),
	)
	if p.CPUsPerTask > 0 {
		out = append(out, fmt.Sprintf("--cpus-per-task=%d", p.CPUsPerTask))
	}
	if p.GPUs > 0 {
		gres := fmt.Sprintf("--gres=gpu:%d", p.GPUs)
		if p.GPUType != "" {
			gres = fmt.Sprintf("--gres=gpu:%s:%d", p.GPUType, p.GPUs)
		}
		out = append(out, gres)
	}
	if p.MemoryGB > 0 {
		out = append(out, fmt.Sprintf("--mem=%dG", p.MemoryGB))
	}
	if p.TimeLimit != "" {
		out = append(out, fmt.Sprintf("--time=%s", p.TimeLimit))
	}
	if p.Partition != "" {
		out = append(out, fmt.Sprintf("--partition=%s", p.Partition))
	}
	if p.Account != "" {
		out = append(out, fmt.Sprintf("--account=%s", p.Account))
	}
	if p.QOS != "" {
		out = append(out, fmt.Sprintf("--qos=%s", p.QOS))
	}
	if p.Constraint != "" {
		out = append(out, fmt.Sprintf("--constraint=%s", p.Constraint))
	}
	for _, k := range sortedKeys(p.Extra) {
		out = append(out, fmt.Sprintf("--%s=%s", k, p.Extra[k]))
	}
	return out
}

// expandCommand renders the template command with its args appended and
// profile fields available as template variables.
func expandCommand(p ResourceProfile, t JobTemplate) (string, error) {
	lines := []string{t.Command}
	for _, k := range sortedKeys(t.Args) {
		flag := strings.ReplaceAll(k, "_", "-")
		lines = append(lines, fmt.Sprintf("    --%s=%s", flag, t.Args[k]))
	}
	raw := strings.Join(lines, " \\\n")

	tmpl, err := template.New(t.Name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", t.Name, err)
	}
	var b strings.Builder
	data := map[string]any{
		"Profile":  p,
		"GPUs":     p.GPUs,
		"CPUs":     p.CPUsPerTask,
		"MemoryGB": p.MemoryGB,
	}
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", t.Name, err)
	}
	return b.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
