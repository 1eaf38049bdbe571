package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS papers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS mark_schemes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		list_penalty INTEGER NOT NULL DEFAULT 1,
		error_carried_forward INTEGER NOT NULL DEFAULT 1,
		spelling_tolerance TEXT NOT NULL DEFAULT 'moderate',
		numeric_tolerance REAL NOT NULL DEFAULT 0.01,
		total_marks INTEGER NOT NULL DEFAULT 0,
		question_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (paper_id) REFERENCES papers(id)
	);

	CREATE TABLE IF NOT EXISTS ms_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scheme_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		number TEXT NOT NULL,
		type TEXT NOT NULL,
		max_marks INTEGER NOT NULL,
		accepted_answers TEXT NOT NULL DEFAULT '[]',
		canonical_equation TEXT NOT NULL DEFAULT '',
		balance_required INTEGER NOT NULL DEFAULT 0,
		state_symbols_required INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (scheme_id) REFERENCES mark_schemes(id)
	);

	CREATE TABLE IF NOT EXISTS marking_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		point_id TEXT NOT NULL,
		marks INTEGER NOT NULL DEFAULT 1,
		criteria TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '[]',
		acceptable_answers TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (question_id) REFERENCES ms_questions(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'uploaded',
		doc_name TEXT NOT NULL DEFAULT '',
		doc_mime TEXT NOT NULL DEFAULT '',
		doc_data BLOB,
		raw_text TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		total_score INTEGER NOT NULL DEFAULT 0,
		max_score INTEGER NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		grade TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (paper_id) REFERENCES papers(id)
	);

	CREATE TABLE IF NOT EXISTS marking_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		question_number TEXT NOT NULL,
		marks_awarded INTEGER NOT NULL DEFAULT 0,
		max_marks INTEGER NOT NULL DEFAULT 0,
		correct INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		breakdown TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS marking_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreatePaper stores a paper.
func (s *Store) CreatePaper(p model.Paper) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO papers (board, code, title, year) VALUES (?, ?, ?, ?)`,
		p.Board, p.Code, p.Title, p.Year,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPaper returns a paper by ID.
func (s *Store) GetPaper(id int64) (model.Paper, error) {
	var p model.Paper
	err := s.db.QueryRow(
		`SELECT id, board, code, title, year FROM papers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Board, &p.Code, &p.Title, &p.Year)
	return p, err
}

// ListPapers returns all papers.
func (s *Store) ListPapers() ([]model.Paper, error) {
	rows, err := s.db.Query(`SELECT id, board, code, title, year FROM papers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var papers []model.Paper
	for rows.Next() {
		var p model.Paper
		if err := rows.Scan(&p.ID, &p.Board, &p.Code, &p.Title, &p.Year); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// CreateMarkScheme stores a mark scheme with its questions and marking
// points and makes it the paper's active scheme. Any previously active
// scheme for the paper is deactivated in the same transaction; old schemes
// are kept, never deleted.
func (s *Store) CreateMarkScheme(ms *model.MarkScheme) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE mark_schemes SET active = 0 WHERE paper_id = ? AND active = 1`, ms.PaperID); err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		`INSERT INTO mark_schemes (paper_id, active, list_penalty, error_carried_forward,
		 spelling_tolerance, numeric_tolerance, total_marks, question_count, created_at)
		 VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?)`,
		ms.PaperID, ms.Rules.ListPenalty, ms.Rules.ErrorCarriedForward,
		string(ms.Rules.SpellingTolerance), ms.Rules.NumericTolerance,
		ms.TotalMarks, ms.QuestionCount, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	schemeID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for qi, q := range ms.Questions {
		accepted, err := json.Marshal(q.AcceptedAnswers)
		if err != nil {
			return 0, err
		}
		qres, err := tx.Exec(
			`INSERT INTO ms_questions (scheme_id, position, number, type, max_marks,
			 accepted_answers, canonical_equation, balance_required, state_symbols_required)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			schemeID, qi, q.Number, string(q.Type), q.MaxMarks,
			string(accepted), q.CanonicalEquation, q.BalanceRequired, q.StateSymbolsRequired,
		)
		if err != nil {
			return 0, err
		}
		questionID, err := qres.LastInsertId()
		if err != nil {
			return 0, err
		}
		for pi, p := range q.Points {
			keywords, err := json.Marshal(p.Keywords)
			if err != nil {
				return 0, err
			}
			acceptable, err := json.Marshal(p.AcceptableAnswers)
			if err != nil {
				return 0, err
			}
			_, err = tx.Exec(
				`INSERT INTO marking_points (question_id, position, point_id, marks, criteria, keywords, acceptable_answers)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				questionID, pi, p.ID, p.Marks, p.Criteria, string(keywords), string(acceptable),
			)
			if err != nil {
				return 0, err
			}
		}
	}

	return schemeID, tx.Commit()
}

// GetActiveMarkScheme returns the paper's active mark scheme with all
// questions and marking points, or nil if the paper has none.
func (s *Store) GetActiveMarkScheme(paperID int64) (*model.MarkScheme, error) {
	var ms model.MarkScheme
	var tolerance string
	err := s.db.QueryRow(
		`SELECT id, paper_id, active, list_penalty, error_carried_forward,
		 spelling_tolerance, numeric_tolerance, total_marks, question_count, created_at
		 FROM mark_schemes WHERE paper_id = ? AND active = 1`, paperID,
	).Scan(&ms.ID, &ms.PaperID, &ms.Active, &ms.Rules.ListPenalty, &ms.Rules.ErrorCarriedForward,
		&tolerance, &ms.Rules.NumericTolerance, &ms.TotalMarks, &ms.QuestionCount, &ms.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ms.Rules.SpellingTolerance = model.SpellingTolerance(tolerance)

	rows, err := s.db.Query(
		`SELECT id, scheme_id, number, type, max_marks, accepted_answers,
		 canonical_equation, balance_required, state_symbols_required
		 FROM ms_questions WHERE scheme_id = ? ORDER BY position`, ms.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var q model.Question
		var qType, accepted string
		if err := rows.Scan(&q.ID, &q.SchemeID, &q.Number, &qType, &q.MaxMarks,
			&accepted, &q.CanonicalEquation, &q.BalanceRequired, &q.StateSymbolsRequired); err != nil {
			return nil, err
		}
		q.Type = model.QuestionType(qType)
		if err := json.Unmarshal([]byte(accepted), &q.AcceptedAnswers); err != nil {
			return nil, fmt.Errorf("decode accepted answers for question %s: %w", q.Number, err)
		}
		ms.Questions = append(ms.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range ms.Questions {
		points, err := s.getMarkingPoints(ms.Questions[i].ID)
		if err != nil {
			return nil, err
		}
		ms.Questions[i].Points = points
	}
	return &ms, nil
}

func (s *Store) getMarkingPoints(questionID int64) ([]model.MarkingPoint, error) {
	rows, err := s.db.Query(
		`SELECT point_id, marks, criteria, keywords, acceptable_answers
		 FROM marking_points WHERE question_id = ? ORDER BY position`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var points []model.MarkingPoint
	for rows.Next() {
		var p model.MarkingPoint
		var keywords, acceptable string
		if err := rows.Scan(&p.ID, &p.Marks, &p.Criteria, &keywords, &acceptable); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords for point %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(acceptable), &p.AcceptableAnswers); err != nil {
			return nil, fmt.Errorf("decode acceptable answers for point %s: %w", p.ID, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// CreateSubmission stores a new submission with its answer document.
func (s *Store) CreateSubmission(sub model.Submission, doc []byte) (int64, error) {
	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO submissions (paper_id, user_id, status, doc_name, doc_mime, doc_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.PaperID, sub.UserID, string(model.StatusUploaded), sub.DocName, sub.DocMIME, doc, now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSubmission returns a submission by ID, without the document blob.
func (s *Store) GetSubmission(id int64) (model.Submission, error) {
	var sub model.Submission
	var status string
	err := s.db.QueryRow(
		`SELECT id, paper_id, user_id, status, doc_name, doc_mime, raw_text, error_message,
		 total_score, max_score, percentage, grade, created_at, updated_at
		 FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.PaperID, &sub.UserID, &status, &sub.DocName, &sub.DocMIME,
		&sub.RawText, &sub.ErrorMessage, &sub.TotalScore, &sub.MaxScore,
		&sub.Percentage, &sub.Grade, &sub.CreatedAt, &sub.UpdatedAt)
	sub.Status = model.SubmissionStatus(status)
	return sub, err
}

// GetSubmissionDoc returns the stored answer document for a submission.
func (s *Store) GetSubmissionDoc(id int64) ([]byte, error) {
	var doc []byte
	err := s.db.QueryRow(`SELECT doc_data FROM submissions WHERE id = ?`, id).Scan(&doc)
	return doc, err
}

// UpdateSubmissionStatus commits a pipeline state transition.
func (s *Store) UpdateSubmissionStatus(id int64, status model.SubmissionStatus) error {
	_, err := s.db.Exec(
		`UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id,
	)
	return err
}

// SetSubmissionText stores the extracted raw text.
func (s *Store) SetSubmissionText(id int64, rawText string) error {
	_, err := s.db.Exec(
		`UPDATE submissions SET raw_text = ?, updated_at = ? WHERE id = ?`,
		rawText, time.Now(), id,
	)
	return err
}

// FailSubmission marks a submission failed with a durable error message.
func (s *Store) FailSubmission(id int64, message string) error {
	_, err := s.db.Exec(
		`UPDATE submissions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusFailed), message, time.Now(), id,
	)
	return err
}

// SaveResults replaces a submission's marking results and commits its
// summary totals and the marking_complete status in one transaction, so a
// reader never observes a half-written result set.
func (s *Store) SaveResults(submissionID int64, results []model.MarkingResult, summary model.GradeSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM marking_results WHERE submission_id = ?`, submissionID); err != nil {
		return err
	}

	for i, r := range results {
		breakdown, err := json.Marshal(r.Breakdown)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO marking_results (submission_id, position, question_number,
			 marks_awarded, max_marks, correct, confidence, feedback, breakdown)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			submissionID, i, r.QuestionNumber, r.MarksAwarded, r.MaxMarks,
			r.Correct, r.Confidence, r.Feedback, string(breakdown),
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`UPDATE submissions SET status = ?, total_score = ?, max_score = ?, percentage = ?, grade = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.StatusMarkingComplete), summary.TotalScore, summary.MaxScore,
		summary.Percentage, summary.Grade, time.Now(), submissionID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetResults returns a submission's marking results in question order.
func (s *Store) GetResults(submissionID int64) ([]model.MarkingResult, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, question_number, marks_awarded, max_marks,
		 correct, confidence, feedback, breakdown
		 FROM marking_results WHERE submission_id = ? ORDER BY position`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.MarkingResult
	for rows.Next() {
		var r model.MarkingResult
		var breakdown string
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.QuestionNumber, &r.MarksAwarded,
			&r.MaxMarks, &r.Correct, &r.Confidence, &r.Feedback, &breakdown); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(breakdown), &r.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown for question %s: %w", r.QuestionNumber, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListSubmissions returns all submissions for a paper, newest first,
// without document blobs or raw text.
func (s *Store) ListSubmissions(paperID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, paper_id, user_id, status, doc_name, doc_mime, error_message,
		 total_score, max_score, percentage, grade, created_at, updated_at
		 FROM submissions WHERE paper_id = ? ORDER BY id DESC`, paperID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		var status string
		if err := rows.Scan(&sub.ID, &sub.PaperID, &sub.UserID, &status, &sub.DocName,
			&sub.DocMIME, &sub.ErrorMessage, &sub.TotalScore, &sub.MaxScore,
			&sub.Percentage, &sub.Grade, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.Status = model.SubmissionStatus(status)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubmissionCount returns the number of submissions for a paper.
func (s *Store) SubmissionCount(paperID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE paper_id = ?`, paperID).Scan(&count)
	return count, err
}
