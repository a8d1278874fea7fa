// Package baseservice contains structs and initialization functions for
// "service-like" objects that provide commonly needed facilities so that they
// don't have to be redefined on every struct. The word "service" is used
// loosely in that it may be applied to long-lived objects that aren't strictly
// services (e.g. migrators, adapters).
package baseservice

import (
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// TimeGenerator generates a current time in UTC. Services use it instead of
// the vanilla functions from the `time` package so that the current time can
// be stubbed in tests.
type TimeGenerator interface {
	// NowUTC returns the current time in UTC.
	NowUTC() time.Time
}

// Archetype contains the set of base service properties that are immutable,
// or otherwise safe for services to copy from another service. The struct is
// also embedded in BaseService, so these properties are available on services
// directly.
type Archetype struct {
	// Logger is a structured logger.
	Logger *slog.Logger

	// Time returns a time generator to get the current time in UTC.
	Time TimeGenerator
}

// NewArchetype returns a new archetype. This function is most suitable for
// non-test usage wherein nothing should be stubbed.
func NewArchetype(logger *slog.Logger) *Archetype {
	return &Archetype{
		Logger: logger,
		Time:   &UnStubbableTimeGenerator{},
	}
}

// BaseService is a struct that's meant to be embedded on "service-like"
// objects and which provides a number of convenient properties that are widely
// needed so that they don't have to be defined on every individual service and
// can easily be copied from each other.
//
// An initial Archetype should be defined near the program's entrypoint, and
// then each service should invoke Init along with the archetype to initialize
// its own base service, usually in its constructor.
type BaseService struct {
	Archetype

	// Name is a name of the service. It should generally be used to prefix all
	// log lines the service emits.
	Name string
}

func (s *BaseService) GetBaseService() *BaseService { return s }

// WithBaseService is an interface to a struct that embeds BaseService. An
// implementation is provided automatically by BaseService, and it's largely
// meant for internal use.
type WithBaseService interface {
	GetBaseService() *BaseService
}

// Init initializes a base service from an archetype. It returns the same
// service that was passed into it for convenience.
func Init[TService WithBaseService](archetype *Archetype, service TService) TService {
	var (
		baseService = service.GetBaseService()
		serviceType = reflect.TypeOf(service).Elem()
	)

	baseService.Logger = archetype.Logger
	baseService.Name = lastPkgPathSegment(serviceType.PkgPath()) + simplifyLogName(serviceType.Name())
	baseService.Time = archetype.Time

	return service
}

// UnStubbableTimeGenerator is a TimeGenerator implementation that can't be
// stubbed. It's always the generator used outside of tests.
type UnStubbableTimeGenerator struct{}

func (g *UnStubbableTimeGenerator) NowUTC() time.Time { return time.Now().UTC() }

// Takes a package path and extracts the last part of it to use in a service
// name for logging purposes.
//
//   - github.com/upkeephq/upkeep/upkeepmigrate -> "upkeepmigrate."
//
// Helps produce log-friendly service names like `upkeepmigrate.Migrator`.
func lastPkgPathSegment(pkgPath string) string {
	lastSlashIndex := strings.LastIndex(pkgPath, "/")
	if lastSlashIndex == -1 {
		return ""
	}

	lastPart := pkgPath[lastSlashIndex+1:]
	if lastPart == "" {
		return ""
	}

	return lastPart + "."
}

var stripGenericTypePathRE = regexp.MustCompile(`\[([\[\]\*]*).*/([^/]+)\]`)

// Simplifies the name of a Go type that uses generics for cleaner logging
// output, stripping package paths from within type parameter brackets.
func simplifyLogName(name string) string {
	return stripGenericTypePathRE.ReplaceAllString(name, `[$1$2]`)
}
