// Package catalog loads exam definitions from YAML seed files and writes
// them into an exam.CatalogWriter.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report yaml keys, not Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(questionAnswerValidation, QuestionDef{})
	return v
}

// File is the top level of a catalog seed file.
type File struct {
	Exams []ExamDef `yaml:"exams" validate:"required,min=1,dive"`
}

type ExamDef struct {
	ID                 string        `yaml:"id" validate:"required"`
	Title              string        `yaml:"title" validate:"required"`
	Status             string        `yaml:"status" validate:"omitempty,oneof=draft published cancelled archived"`
	DurationSec        int           `yaml:"duration_sec" validate:"required,gt=0"`
	PassingScore       float64       `yaml:"passing_score" validate:"gte=0,lte=100"`
	TotalPoints        float64       `yaml:"total_points" validate:"gte=0"`
	MaxAttempts        int           `yaml:"max_attempts" validate:"gte=0"`
	AvailableFrom      *time.Time    `yaml:"available_from"`
	AvailableUntil     *time.Time    `yaml:"available_until"`
	RandomizeQuestions bool          `yaml:"randomize_questions"`
	ShowCorrectAnswers bool          `yaml:"show_correct_answers"`
	Questions          []QuestionDef `yaml:"questions" validate:"required,min=1,unique=ID,dive"`
}

type QuestionDef struct {
	ID      string        `yaml:"id" validate:"required"`
	Type    string        `yaml:"type" validate:"required,oneof=single_choice true_false short_answer essay"`
	Prompt  string        `yaml:"prompt"`
	Options []exam.Option `yaml:"options"`
	Answer  any           `yaml:"answer"`
	Points  float64       `yaml:"points" validate:"gt=0"`
}

// questionAnswerValidation requires a key for types graded by comparison.
func questionAnswerValidation(sl validator.StructLevel) {
	q := sl.Current().Interface().(QuestionDef)
	if exam.QuestionType(q.Type).AutoGradable() && q.Answer == nil {
		sl.ReportError(q.Answer, "answer", "Answer", "required_for_type", q.Type)
	}
}

// Load reads and validates the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, describe(err)
	}
	for _, e := range f.Exams {
		if e.AvailableFrom != nil && e.AvailableUntil != nil && e.AvailableUntil.Before(*e.AvailableFrom) {
			return nil, fmt.Errorf("exam %s: available_until is before available_from", e.ID)
		}
	}
	return &f, nil
}

func describe(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", ns, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", ns, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
}

// Build converts a definition into the catalog types. TotalPoints falls
// back to the sum of question points when left at zero.
func (d ExamDef) Build() (exam.Exam, []exam.Question, error) {
	e := exam.Exam{
		ID:                 d.ID,
		Title:              d.Title,
		Status:             exam.ExamStatus(d.Status),
		DurationSec:        d.DurationSec,
		PassingScore:       d.PassingScore,
		TotalPoints:        d.TotalPoints,
		MaxAttempts:        d.MaxAttempts,
		AvailableFrom:      utc(d.AvailableFrom),
		AvailableUntil:     utc(d.AvailableUntil),
		RandomizeQuestions: d.RandomizeQuestions,
		ShowCorrectAnswers: d.ShowCorrectAnswers,
	}
	if e.Status == "" {
		e.Status = exam.ExamDraft
	}

	qs := make([]exam.Question, 0, len(d.Questions))
	var sum float64
	for i, qd := range d.Questions {
		q := exam.Question{
			ID:       qd.ID,
			ExamID:   d.ID,
			Type:     exam.QuestionType(qd.Type),
			Prompt:   qd.Prompt,
			Options:  qd.Options,
			Points:   qd.Points,
			Position: i + 1,
		}
		if qd.Answer != nil {
			raw, err := json.Marshal(qd.Answer)
			if err != nil {
				return exam.Exam{}, nil, fmt.Errorf("exam %s question %s: answer: %w", d.ID, qd.ID, err)
			}
			q.CorrectAnswer = raw
		}
		sum += q.Points
		qs = append(qs, q)
	}
	if e.TotalPoints == 0 {
		e.TotalPoints = sum
	}
	return e, qs, nil
}

// Seed writes every exam in f. Existing exams with the same id are replaced.
func (f *File) Seed(ctx context.Context, w exam.CatalogWriter) (int, error) {
	n := 0
	for _, d := range f.Exams {
		e, qs, err := d.Build()
		if err != nil {
			return n, err
		}
		if err := w.PutExam(ctx, e, qs); err != nil {
			return n, fmt.Errorf("catalog: put exam %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
