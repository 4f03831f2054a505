package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"triagecall/app/service/record"

	_ "embed"

	"github.com/elliotchance/pie/v2"
)

//go:embed intake_prompt_template.txt
var intakePromptTemplate string

const (
	dobLayout    = "2006-01-02"
	intakeBullet = "- Patient filled out webform."
)

// IntakeForm is a self-reported profile with a free-text reason for the visit.
type IntakeForm struct {
	FirstName   string `form:"first_name" validate:"required"`
	LastName    string `form:"last_name"`
	PhoneNumber string `form:"phone_number" validate:"required"`
	DateOfBirth string `form:"dob" validate:"omitempty,datetime=2006-01-02"`
	Gender      string `form:"gender"`
	Height      string `form:"height"`
	Weight      string `form:"weight"`
	Reason      string `form:"reason" validate:"required"`
}

// Intake stores a submitted form on the caller's record as a dated entry.
func (s *Service) Intake(ctx context.Context, form IntakeForm) (*record.Record, error) {
	callerID, err := NormalizePhone(form.PhoneNumber)
	if err != nil {
		return nil, err
	}

	age := ""
	if form.DateOfBirth != "" {
		birth, err := time.Parse(dobLayout, form.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("invalid date of birth: %w", err)
		}
		age = strconv.Itoa(ageAt(birth, s.now()))
	}

	bullets := s.intakeBullets(ctx, form.Reason)

	unlock := s.locks.Lock(callerID)
	defer unlock()

	rec, err := s.load(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}

	rec.Set("fname", form.FirstName)
	rec.Set("lname", form.LastName)
	rec.Set("age", age)
	rec.Set("gender", form.Gender)
	rec.Set("height", form.Height)
	rec.Set("weight", form.Weight)
	rec.PhoneNumber = callerID

	rec.AddEntry(s.now(), append([]string{intakeBullet}, bullets...))

	s.save(ctx, callerID, rec)

	slog.Info("Webform received", "phone_number", callerID)

	return rec, nil
}

// intakeBullets turns the reason into bullets, or keeps it verbatim as a
// single bullet when the oracle fails.
func (s *Service) intakeBullets(ctx context.Context, reason string) []string {
	reason = strings.TrimSpace(reason)
	fallback := []string{"- " + reason}

	prompt := strings.ReplaceAll(intakePromptTemplate, "{reason}", reason)

	raw, err := s.oracle.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Failed to process webform reason", "error", err)
		return fallback
	}

	bullets := pie.Filter(pie.Map(strings.Split(raw, "\n"), strings.TrimSpace), func(line string) bool {
		return line != ""
	})
	if len(bullets) == 0 {
		return fallback
	}

	return bullets
}

func ageAt(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}

	return age
}
