package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-assess/internal/db"
)

// SQLStore implements Catalog, CatalogWriter and Ledger on sqlite or postgres.
type SQLStore struct {
	db     *sql.DB
	driver db.Driver
}

func NewSQLStore(sqlDB *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{db: sqlDB, driver: driver}
}

// forUpdate locks the selected row on postgres; sqlite has a single writer.
func (s *SQLStore) forUpdate() string {
	if s.driver == db.DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type scanner interface {
	Scan(dest ...any) error
}

/* ------------------------------- catalog ------------------------------- */

func (s *SQLStore) PutExam(ctx context.Context, e Exam, qs []Question) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO exams
			(id,title,status,duration_sec,passing_score,total_points,max_attempts,
			 available_from,available_until,randomize_questions,show_correct_answers,created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, status=EXCLUDED.status,
			  duration_sec=EXCLUDED.duration_sec, passing_score=EXCLUDED.passing_score,
			  total_points=EXCLUDED.total_points, max_attempts=EXCLUDED.max_attempts,
			  available_from=EXCLUDED.available_from, available_until=EXCLUDED.available_until,
			  randomize_questions=EXCLUDED.randomize_questions,
			  show_correct_answers=EXCLUDED.show_correct_answers`,
			e.ID, e.Title, string(e.Status), e.DurationSec, e.PassingScore, e.TotalPoints, e.MaxAttempts,
			nullMillis(e.AvailableFrom), nullMillis(e.AvailableUntil),
			boolInt(e.RandomizeQuestions), boolInt(e.ShowCorrectAnswers), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("put exam: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id=$1`, e.ID); err != nil {
			return fmt.Errorf("put exam: clear questions: %w", err)
		}
		for _, q := range qs {
			oj, err := json.Marshal(q.Options)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO questions
				(id,exam_id,type,prompt,options_json,correct_answer,points,position)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				q.ID, e.ID, string(q.Type), q.Prompt, string(oj), nullRaw(q.CorrectAnswer), q.Points, q.Position)
			if err != nil {
				return fmt.Errorf("put exam: question %s: %w", q.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,status,duration_sec,passing_score,total_points,
		max_attempts,available_from,available_until,randomize_questions,show_correct_answers,created_at
		FROM exams WHERE id=$1`, id)
	var (
		e            Exam
		status       string
		from, until  sql.NullInt64
		rand, reveal int
	)
	err := row.Scan(&e.ID, &e.Title, &status, &e.DurationSec, &e.PassingScore, &e.TotalPoints,
		&e.MaxAttempts, &from, &until, &rand, &reveal, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, ErrExamNotFound
		}
		return Exam{}, err
	}
	e.Status = ExamStatus(status)
	e.AvailableFrom = fromNullMillis(from)
	e.AvailableUntil = fromNullMillis(until)
	e.RandomizeQuestions = rand != 0
	e.ShowCorrectAnswers = reveal != 0
	return e, nil
}

func (s *SQLStore) QuestionsForExam(ctx context.Context, examID string) ([]Question, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,exam_id,type,prompt,options_json,correct_answer,points,position
		FROM questions WHERE exam_id=$1 ORDER BY position, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var (
			q       Question
			typ, oj string
			correct sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &typ, &q.Prompt, &oj, &correct, &q.Points, &q.Position); err != nil {
			return nil, err
		}
		q.Type = QuestionType(typ)
		if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
			return nil, fmt.Errorf("question %s: options: %w", q.ID, err)
		}
		if correct.Valid {
			q.CorrectAnswer = json.RawMessage(correct.String)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

/* -------------------------------- ledger ------------------------------- */

const attemptCols = `id,exam_id,learner_id,attempt_number,status,end_reason,started_at,submitted_at,
	question_order,focus_question_id,focus_since,score,score_percent,passed,graded_at`

func scanAttempt(sc scanner) (Attempt, error) {
	var (
		a                   Attempt
		status, reason, ord string
		started             int64
		submitted, focus    sql.NullInt64
		graded              sql.NullInt64
		passed              int
	)
	err := sc.Scan(&a.ID, &a.ExamID, &a.LearnerID, &a.Number, &status, &reason, &started, &submitted,
		&ord, &a.FocusQuestionID, &focus, &a.Score, &a.ScorePercent, &passed, &graded)
	if err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptStatus(status)
	a.EndReason = EndReason(reason)
	a.StartedAt = fromMillis(started)
	a.SubmittedAt = fromNullMillis(submitted)
	a.FocusSince = fromNullMillis(focus)
	a.GradedAt = fromNullMillis(graded)
	a.Passed = passed != 0
	if err := json.Unmarshal([]byte(ord), &a.QuestionOrder); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s: question order: %w", a.ID, err)
	}
	return a, nil
}

func (s *SQLStore) CreateAttempt(ctx context.Context, in NewAttempt) (Attempt, error) {
	a := Attempt{
		ID:            uuid.NewString(),
		ExamID:        in.ExamID,
		LearnerID:     in.LearnerID,
		Status:        StatusInProgress,
		StartedAt:     fromMillis(in.StartedAt.UnixMilli()),
		QuestionOrder: append([]string(nil), in.QuestionOrder...),
	}
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM exams WHERE id=$1`, in.ExamID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrExamNotFound
			}
			return err
		}
		var count, maxNum, active int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(attempt_number),0),
			COALESCE(SUM(CASE WHEN status='in_progress' THEN 1 ELSE 0 END),0)
			FROM attempts WHERE exam_id=$1 AND learner_id=$2`, in.ExamID, in.LearnerID).
			Scan(&count, &maxNum, &active)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if in.MaxAttempts > 0 && count >= in.MaxAttempts {
			return NotEligible(ReasonAttemptsExhausted)
		}
		if active > 0 {
			return NotEligible(ReasonAlreadyInProgress)
		}
		a.Number = maxNum + 1
		ord, err := json.Marshal(a.QuestionOrder)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO attempts
			(id,exam_id,learner_id,attempt_number,status,started_at,question_order)
			VALUES ($1,$2,$3,$4,'in_progress',$5,$6)`,
			a.ID, a.ExamID, a.LearnerID, a.Number, a.StartedAt.UnixMilli(), string(ord))
		if db.IsUniqueViolation(err) {
			// a concurrent start won the race for this (exam, learner)
			return NotEligible(ReasonAlreadyInProgress)
		}
		return err
	})
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+responseCols+` FROM responses WHERE attempt_id=$1`, id)
	if err != nil {
		return Attempt{}, err
	}
	defer rows.Close()
	byQ := map[string]Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return Attempt{}, err
		}
		byQ[r.QuestionID] = r
	}
	if err := rows.Err(); err != nil {
		return Attempt{}, err
	}
	for _, qid := range a.QuestionOrder {
		if r, ok := byQ[qid]; ok {
			a.Responses = append(a.Responses, r)
		}
	}
	return a, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ExamID != "" {
		add("exam_id=$%d", f.ExamID)
	}
	if f.LearnerID != "" {
		add("learner_id=$%d", f.LearnerID)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at DESC, attempt_number DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
		if f.Offset > 0 {
			args = append(args, f.Offset)
			q += fmt.Sprintf(` OFFSET $%d`, len(args))
		}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 && f.Offset > 0 {
		out = page(out, f.Offset, 0)
	}
	return out, nil
}

func (s *SQLStore) Transition(ctx context.Context, id string, from, to AttemptStatus, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, ErrInvalidTransition
	}
	var (
		res sql.Result
		err error
	)
	if from == StatusInProgress {
		res, err = s.db.ExecContext(ctx, `UPDATE attempts
			SET status=$1, submitted_at=$2, end_reason=$3, focus_question_id='', focus_since=NULL
			WHERE id=$4 AND status=$5`,
			string(to), at.UnixMilli(), string(EndReasonFor(to)), id, string(from))
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE attempts SET status=$1 WHERE id=$2 AND status=$3`,
			string(to), id, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if err := s.attemptExists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) attemptExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAttemptNotFound
	}
	return err
}

const responseCols = `id,attempt_id,question_id,answer,time_spent_sec,flagged,is_correct,points_earned,
	needs_manual,feedback,graded_by,answered_at,updated_at`

func scanResponse(sc scanner) (Response, error) {
	var (
		r              Response
		answer         sql.NullString
		flagged, needs int
		correct        sql.NullInt64
		points         sql.NullFloat64
		answeredAt     sql.NullInt64
		updatedAt      int64
	)
	err := sc.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &answer, &r.TimeSpentSec, &flagged, &correct, &points,
		&needs, &r.Feedback, &r.GradedBy, &answeredAt, &updatedAt)
	if err != nil {
		return Response{}, err
	}
	if answer.Valid {
		r.Answer = json.RawMessage(answer.String)
	}
	r.Flagged = flagged != 0
	if correct.Valid {
		v := correct.Int64 != 0
		r.IsCorrect = &v
	}
	if points.Valid {
		v := points.Float64
		r.PointsEarned = &v
	}
	r.NeedsManualGrading = needs != 0
	r.AnsweredAt = fromNullMillis(answeredAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

func (s *SQLStore) UpsertResponse(ctx context.Context, u ResponseUpdate) (Response, error) {
	var out Response
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM attempts WHERE id=$1`+s.forUpdate(), u.AttemptID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAttemptNotFound
			}
			return err
		}
		if AttemptStatus(status) != StatusInProgress {
			return ErrAttemptNotActive
		}

		now := u.At.UnixMilli()
		r, err := scanResponse(tx.QueryRowContext(ctx, `SELECT `+responseCols+` FROM responses
			WHERE attempt_id=$1 AND question_id=$2`, u.AttemptID, u.QuestionID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			r = Response{ID: uuid.NewString(), AttemptID: u.AttemptID, QuestionID: u.QuestionID}
			_, err = tx.ExecContext(ctx, `INSERT INTO responses (id,attempt_id,question_id,updated_at)
				VALUES ($1,$2,$3,$4)`, r.ID, r.AttemptID, r.QuestionID, now)
			if err != nil {
				return fmt.Errorf("insert response: %w", err)
			}
		case err != nil:
			return err
		}

		if u.SetAnswer {
			r.Answer = append(json.RawMessage(nil), u.Answer...)
			t := fromMillis(now)
			r.AnsweredAt = &t
		}
		if u.Flagged != nil {
			r.Flagged = *u.Flagged
		}
		if u.AddTimeSec > 0 {
			r.TimeSpentSec += u.AddTimeSec
		}
		r.UpdatedAt = fromMillis(now)
		_, err = tx.ExecContext(ctx, `UPDATE responses
			SET answer=$1, answered_at=$2, flagged=$3, time_spent_sec=$4, updated_at=$5
			WHERE id=$6`,
			nullRaw(r.Answer), nullMillis(r.AnsweredAt), boolInt(r.Flagged), r.TimeSpentSec, now, r.ID)
		if err != nil {
			return fmt.Errorf("update response: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *SQLStore) SetFocus(ctx context.Context, attemptID, questionID string, since time.Time) error {
	var focusSince any
	if questionID != "" {
		focusSince = since.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET focus_question_id=$1, focus_since=$2
		WHERE id=$3 AND status='in_progress'`, questionID, focusSince, attemptID)
	if err != nil {
		return fmt.Errorf("set focus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := s.attemptExists(ctx, attemptID); err != nil {
		return err
	}
	return ErrAttemptNotActive
}

func (s *SQLStore) GetResponse(ctx context.Context, id string) (Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, `SELECT `+responseCols+` FROM responses WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, ErrResponseNotFound
	}
	return r, err
}

func (s *SQLStore) SaveGrades(ctx context.Context, attemptID string, updates []GradeUpdate) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		for _, u := range updates {
			var correct any
			if u.IsCorrect != nil {
				correct = boolInt(*u.IsCorrect)
			}
			var points any
			if u.PointsEarned != nil {
				points = *u.PointsEarned
			}
			res, err := tx.ExecContext(ctx, `UPDATE responses
				SET is_correct=$1, points_earned=$2, needs_manual=$3, feedback=$4, graded_by=$5
				WHERE id=$6 AND attempt_id=$7`,
				correct, points, boolInt(u.NeedsManualGrading), u.Feedback, u.GradedBy, u.ResponseID, attemptID)
			if err != nil {
				return fmt.Errorf("save grade %s: %w", u.ResponseID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrResponseNotFound
			}
		}
		return nil
	})
}

func (s *SQLStore) Finalize(ctx context.Context, attemptID string, sc Score) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts
		SET status='graded', score=$1, score_percent=$2, passed=$3, graded_at=$4
		WHERE id=$5 AND status IN ('submitted','expired','graded')`,
		sc.Points, sc.Percent, boolInt(sc.Passed), sc.GradedAt.UnixMilli(), attemptID)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", attemptID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if err := s.attemptExists(ctx, attemptID); err != nil {
		return err
	}
	return ErrAttemptNotTerminal
}

func (s *SQLStore) ManualQueue(ctx context.Context, examID string) ([]PendingResponse, error) {
	q := `SELECT r.id,r.attempt_id,r.question_id,r.answer,r.time_spent_sec,r.flagged,r.is_correct,
		r.points_earned,r.needs_manual,r.feedback,r.graded_by,r.answered_at,r.updated_at,
		a.exam_id,a.learner_id
		FROM responses r JOIN attempts a ON a.id = r.attempt_id
		WHERE r.needs_manual = 1`
	var args []any
	if examID != "" {
		q += ` AND a.exam_id = $1`
		args = append(args, examID)
	}
	q += ` ORDER BY r.updated_at, r.id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingResponse
	for rows.Next() {
		var p PendingResponse
		r, err := scanResponse(rowWithTail{rows, &p.ExamID, &p.LearnerID})
		if err != nil {
			return nil, err
		}
		p.Response = r
		out = append(out, p)
	}
	return out, rows.Err()
}

// rowWithTail appends extra destinations so scanResponse can read joined rows.
type rowWithTail struct {
	sc    scanner
	tail0 *string
	tail1 *string
}

func (r rowWithTail) Scan(dest ...any) error {
	return r.sc.Scan(append(dest, r.tail0, r.tail1)...)
}

/* ------------------------------- helpers ------------------------------- */

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
