package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asklp/asklp/internal/database"
	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/repository"
)

type questionFixture struct {
	svc   *QuestionService
	clock time.Time
	guest *domain.User
	admin *domain.User
}

func newQuestionFixture(t *testing.T) *questionFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, dialect, err := database.Open(database.Options{URL: dsn})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, dialect, nil))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	users := repository.NewUserRepository(db)
	guest := &domain.User{ID: "2002", Username: "guest", Discriminator: "0", JoinedAt: time.Now(), DailyQuestions: 2}
	admin := &domain.User{ID: "1001", Username: "nbols", Discriminator: "0", IsAdmin: true, JoinedAt: time.Now(), DailyQuestions: 10}
	require.NoError(t, users.Create(context.Background(), guest))
	require.NoError(t, users.Create(context.Background(), admin))

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	f := &questionFixture{
		svc:   NewQuestionService(repository.NewQuestionRepository(db), loc, nil),
		clock: time.Date(2026, 3, 7, 23, 30, 0, 0, loc),
		guest: guest,
		admin: admin,
	}
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestQuestionServiceSubmitEnforcesDailyQuota(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, quota, err := f.svc.Submit(ctx, f.guest, NewQuestion{Title: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
		require.EqualValues(t, i+1, quota.Used)
	}
	_, quota, err := f.svc.Submit(ctx, f.guest, NewQuestion{Title: "over the limit"})
	require.ErrorIs(t, err, repository.ErrDailyLimitReached)
	require.EqualValues(t, 0, quota.Remaining)
	require.True(t, quota.ResetsAt.Equal(time.Date(2026, 3, 8, 5, 0, 0, 0, time.UTC)), "resets at %v", quota.ResetsAt)

	f.clock = f.clock.Add(40 * time.Minute)
	q, quota, err := f.svc.Submit(ctx, f.guest, NewQuestion{Title: "  next day  ", Body: " body ", Public: true})
	require.NoError(t, err, "quota resets at local midnight")
	require.Equal(t, "next day", q.Title)
	require.Equal(t, "body", q.Body)
	require.EqualValues(t, 1, quota.Remaining)

	own, err := f.svc.ListOwn(ctx, f.guest.ID)
	require.NoError(t, err)
	require.Len(t, own, 3)
	require.Equal(t, "next day", own[0].Title)
}

func TestQuestionServiceDayWindowFollowsZoneAcrossDST(t *testing.T) {
	f := newQuestionFixture(t)
	from, to := f.svc.dayWindow(time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC))
	require.Equal(t, 23*time.Hour, to.Sub(from))
	require.True(t, from.Equal(time.Date(2026, 3, 8, 5, 0, 0, 0, time.UTC)), "window starts at %v", from)
}

func TestQuestionServiceRejectsEmptyInput(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Submit(ctx, f.guest, NewQuestion{Title: "   "})
	require.ErrorIs(t, err, ErrEmptyQuestion)

	q, _, err := f.svc.Submit(ctx, f.guest, NewQuestion{Title: "real"})
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, f.admin, q.ID, "\n")
	require.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestQuestionServiceAnswerOnceAndQueue(t *testing.T) {
	f := newQuestionFixture(t)
	ctx := context.Background()

	asked, _, err := f.svc.Submit(ctx, f.guest, NewQuestion{Title: "favourite map?"})
	require.NoError(t, err)
	_, _, err = f.svc.Submit(ctx, f.admin, NewQuestion{Title: "note to self"})
	require.NoError(t, err)

	pending, err := f.svc.ListUnanswered(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, pending, 1, "an admin's own questions stay out of the queue")
	require.Equal(t, asked.ID, pending[0].ID)
	require.Equal(t, "guest", pending[0].Username)

	answer, err := f.svc.Answer(ctx, f.admin, asked.ID, "mirage")
	require.NoError(t, err)
	require.Equal(t, asked.ID, answer.QuestionID)

	_, err = f.svc.Answer(ctx, f.admin, asked.ID, "again")
	require.ErrorIs(t, err, repository.ErrAnswerExists)
	_, err = f.svc.Answer(ctx, f.admin, "missing", "hello")
	require.ErrorIs(t, err, repository.ErrQuestionNotFound)

	pending, err = f.svc.ListUnanswered(ctx, f.admin)
	require.NoError(t, err)
	require.Empty(t, pending)

	own, err := f.svc.ListOwn(ctx, f.guest.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.True(t, own[0].Answered)
	require.NotNil(t, own[0].AnswerBody)
	require.Equal(t, "mirage", *own[0].AnswerBody)

	quota, err := f.svc.Quota(ctx, f.guest)
	require.NoError(t, err)
	require.EqualValues(t, 1, quota.Used)
}
