// Package options parses the command line of spec §6 into a configuration
// record. It fills no defaults: those depend on the RunId and the resolved
// user, and internal/supervisor fills them once both are known.
//
// Grounded on boxer.c's options_parse/options_set*; the "one tagged
// option per flag family" shape follows the Design Notes' "tagged
// dispatch on cgroup/rlimit option names -> sum type" guidance.
package options

import (
	"fmt"
	"strconv"
	"strings"
)

// BindMount is the BindMount entity of spec §3, before target rebasing.
type BindMount struct {
	Source   string
	Target   string // may be empty; defaults to Source
	ReadOnly bool
}

// CgroupRule is the CgroupRule entity of spec §3 (subsystem.parameter=value).
type CgroupRule struct {
	Subsystem string
	Parameter string
	Value     string
}

// RlimitRule is the RlimitRule entity of spec §3, before numeric resolution.
type RlimitRule struct {
	Name string
	Soft string
	Hard string
}

// Parsed is the configuration record produced by argument parsing: spec's
// external "argument parsing produces the configuration record" interface.
type Parsed struct {
	Help    bool
	Version bool

	User   string
	Host   string
	Domain string
	Image  string
	Root   string
	Home   string
	Work   string

	Binds   []BindMount
	Cgroups []CgroupRule
	Rlimits []RlimitRule

	Command []string

	Warnings []string // unknown options: recoverable per §7
}

// Parse walks argv (excluding argv[0]) the way boxer.c's options_parse
// does: both "--name value" and "--name=value" are accepted, short names
// are single letters, a lone "--" stops option parsing, and everything
// left over becomes Command. Unknown options produce a warning, not an
// error.
func Parse(argv []string) (*Parsed, error) {
	p := &Parsed{}

	i := 0
	for i < len(argv) {
		arg := argv[i]
		if len(arg) == 0 || arg[0] != '-' {
			break
		}

		name := arg
		long := false
		name = name[1:]
		if strings.HasPrefix(name, "-") {
			name = name[1:]
			long = true
			if name == "" {
				// a lone "--" stops option parsing.
				i++
				break
			}
		}

		var value string
		var hasValue bool
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
			hasValue = true
		}

		if !hasValue && !isFlag(name, long) {
			i++
			if i >= len(argv) {
				return nil, fmt.Errorf("option %q requires an argument", name)
			}
			value = argv[i]
		}
		i++

		if err := p.set(name, value, long); err != nil {
			return nil, err
		}
		if p.Help || p.Version {
			return p, nil
		}
	}

	if i < len(argv) {
		p.Command = argv[i:]
	}
	return p, nil
}

func (p *Parsed) set(name, value string, long bool) error {
	switch {
	case match(name, long, "help", "h"):
		p.Help = true
	case match(name, long, "version", "v"):
		p.Version = true
	case match(name, long, "user", "u"):
		p.User = value
	case match(name, long, "host", ""):
		p.Host = value
	case match(name, long, "domain", "d"):
		p.Domain = value
	case match(name, long, "image", "i"):
		p.Image = value
	case match(name, long, "root", "r"):
		p.Root = value
	case match(name, long, "home", "H"):
		p.Home = value
	case match(name, long, "work", "w"):
		p.Work = value
	case match(name, long, "bind", "b"):
		p.Binds = append(p.Binds, parseBind(value, false))
	case match(name, long, "bind-ro", "B"):
		p.Binds = append(p.Binds, parseBind(value, true))
	case long && strings.HasPrefix(name, "cgroup."):
		rule, err := parseCgroup(strings.TrimPrefix(name, "cgroup."), value)
		if err != nil {
			return err
		}
		p.Cgroups = mergeCgroup(p.Cgroups, rule)
	case long && strings.HasPrefix(name, "rlimit."):
		p.Rlimits = mergeRlimit(p.Rlimits, parseRlimit(strings.TrimPrefix(name, "rlimit."), value))
	default:
		p.Warnings = append(p.Warnings, fmt.Sprintf("unknown option %s", name))
	}
	return nil
}

func match(name string, long bool, longName, shortName string) bool {
	if long {
		return name == longName
	}
	return shortName != "" && name == shortName
}

// isFlag reports whether name is one of the argument-less options
// (--help/-h, --version/-v): boxer.c's argv[++i] is safe to evaluate
// unconditionally because a NUL-terminated argv yields NULL past the
// end, but Go's argv has no such sentinel, so these have to be
// recognized before Parse decides whether a following value is required.
func isFlag(name string, long bool) bool {
	return match(name, long, "help", "h") || match(name, long, "version", "v")
}

func parseBind(value string, readonly bool) BindMount {
	source, target := splitAt(value, ':')
	return BindMount{Source: source, Target: target, ReadOnly: readonly}
}

func parseCgroup(name, value string) (CgroupRule, error) {
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return CgroupRule{}, fmt.Errorf("malformed cgroup option %q: want SUBSYSTEM.PARAMETER", name)
	}
	return CgroupRule{
		Subsystem: name[:dot],
		Parameter: name[dot+1:],
		Value:     value,
	}, nil
}

func mergeCgroup(rules []CgroupRule, rule CgroupRule) []CgroupRule {
	for i := range rules {
		if rules[i].Subsystem == rule.Subsystem && rules[i].Parameter == rule.Parameter {
			rules[i] = rule
			return rules
		}
	}
	return append(rules, rule)
}

func parseRlimit(name, value string) RlimitRule {
	soft, hard := splitAt(value, '/')
	if hard == "" {
		hard = soft
	}
	return RlimitRule{Name: name, Soft: soft, Hard: hard}
}

func mergeRlimit(rules []RlimitRule, rule RlimitRule) []RlimitRule {
	for i := range rules {
		if strings.EqualFold(rules[i].Name, rule.Name) {
			rules[i] = rule
			return rules
		}
	}
	return append(rules, rule)
}

// splitAt splits value at the first occurrence of sep, like boxer.c's
// str_split_at. The second return is empty (not a pointer-nil sentinel,
// Go has no such distinction here) when sep is absent.
func splitAt(value string, sep byte) (lo, hi string) {
	idx := strings.IndexByte(value, sep)
	if idx < 0 {
		return value, ""
	}
	return value[:idx], value[idx+1:]
}

// ParseSize parses the K/M/G-suffixed values of spec §4.5 and §8
// ("1k"==1024 etc.), case-insensitively.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	suffix := s[len(s)-1]
	mult := int64(1)
	numeric := s
	switch suffix {
	case 'k', 'K':
		mult = 1024
		numeric = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		numeric = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		numeric = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed numeric value %q: %w", s, err)
	}
	return n * mult, nil
}
