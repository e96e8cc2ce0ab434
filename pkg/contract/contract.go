// Package contract gates skill records on the contract (shape) version they
// declare. The check is pure: it runs when a skill is registered and again
// immediately before every invocation.
package contract

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/types/skills"
)

const (
	// CurrentVersion is the contract version stamped on records built by this platform
	CurrentVersion = "1.0.0"
	// DefaultMinimum is the oldest contract version accepted when none is configured
	DefaultMinimum = "1.0.0"
)

// IncompatibleContractError reports a skill whose contract version is below the platform minimum
type IncompatibleContractError struct {
	SkillID string
	Version string
	Minimum string
}

func (e *IncompatibleContractError) Error() string {
	return fmt.Sprintf("skill %s declares contract version %q, platform requires at least %s", e.SkillID, e.Version, e.Minimum)
}

// IsIncompatible reports whether err is, or wraps, an IncompatibleContractError
func IsIncompatible(err error) bool {
	var target *IncompatibleContractError
	return errors.As(err, &target)
}

// parse reads a full MAJOR.MINOR.PATCH with an optional leading v, dropping
// any pre-release or build suffix. Short forms such as "1.2" are rejected.
func parse(v string) (*semver.Version, error) {
	parsed, err := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(v), "v"))
	if err != nil {
		return nil, err
	}
	return semver.New(parsed.Major(), parsed.Minor(), parsed.Patch(), "", ""), nil
}

// Validate reports whether v parses as a contract version
func Validate(v string) error {
	if _, err := parse(v); err != nil {
		return errors.Wrapf(err, "invalid contract version %q", v)
	}
	return nil
}

// Compare orders two contract versions, returning -1, 0 or 1
func Compare(a, b string) (int, error) {
	va, err := parse(a)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid contract version %q", a)
	}
	vb, err := parse(b)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid contract version %q", b)
	}
	return va.Compare(vb), nil
}

// Check returns an *IncompatibleContractError when version is strictly below minimum.
// A version that cannot be parsed is incompatible; an unparsable minimum is a
// platform misconfiguration and is reported as a plain error.
func Check(skillID, version, minimum string) error {
	floor, err := parse(minimum)
	if err != nil {
		return errors.Wrapf(err, "invalid platform minimum contract version %q", minimum)
	}
	v, err := parse(version)
	if err != nil || v.LessThan(floor) {
		return &IncompatibleContractError{SkillID: skillID, Version: version, Minimum: minimum}
	}
	return nil
}

// Gate checks records against a fixed platform minimum
type Gate struct {
	Minimum string
}

// NewGate returns a gate for minimum, falling back to DefaultMinimum when empty
func NewGate(minimum string) Gate {
	if strings.TrimSpace(minimum) == "" {
		minimum = DefaultMinimum
	}
	return Gate{Minimum: minimum}
}

// Check validates the skill's declared contract version
func (g Gate) Check(skill *skills.SkillContract) error {
	if skill == nil {
		return errors.New("nil skill")
	}
	return Check(skill.CanonicalID, skill.ContractVersion, g.Minimum)
}

// Compatible reports whether the skill passes the gate
func (g Gate) Compatible(skill *skills.SkillContract) bool {
	return g.Check(skill) == nil
}
