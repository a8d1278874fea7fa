package baseservice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/upkeephq/upkeep/internal/slogtest"
)

type MyService struct {
	BaseService
}

type MyGenericService[T any] struct {
	BaseService
}

func TestInit(t *testing.T) {
	t.Parallel()

	archetype := archetype(t)

	myService := Init(archetype, &MyService{})
	require.NotNil(t, myService.Logger)
	require.Equal(t, "baseservice.MyService", myService.Name)
	require.NotZero(t, myService.Time.NowUTC())
}

func TestInitGenericService(t *testing.T) {
	t.Parallel()

	archetype := archetype(t)

	myService := Init(archetype, &MyGenericService[int]{})
	require.Equal(t, "baseservice.MyGenericService[int]", myService.Name)
}

func TestSimplifyLogName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Simple", simplifyLogName("Simple"))
	require.Equal(t, "Migrator[int]", simplifyLogName("Migrator[int]"))
	require.Equal(t, "Migrator[v5.Tx]", simplifyLogName("Migrator[github.com/jackc/pgx/v5.Tx]"))
	require.Equal(t, "Migrator[*sql.Tx]", simplifyLogName("Migrator[*database/sql.Tx]"))
}

func TestUnStubbableTimeGenerator(t *testing.T) {
	t.Parallel()

	timeGenerator := &UnStubbableTimeGenerator{}
	require.WithinDuration(t, time.Now().UTC(), timeGenerator.NowUTC(), 5*time.Second)
}

func archetype(t *testing.T) *Archetype {
	t.Helper()

	return NewArchetype(slogtest.NewLogger(t, nil))
}
