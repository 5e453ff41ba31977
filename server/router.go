package server

import (
	"regexp"
	"sort"
)

// HandlerFunc is one step of a handler chain. A step continues the chain by
// calling c.Next before it returns; a step that returns without calling Next
// ends the chain. A returned error aborts the chain and is passed to the
// uncaught error handler.
type HandlerFunc func(c *Context) error

// ErrorHandlerFunc handles an error raised by a handler chain. It owns the
// response for the failed request.
type ErrorHandlerFunc func(c *Context, err error) error

// Matcher selects the routes a middleware applies to.
type Matcher interface {
	Match(route string) bool
}

type MatcherFunc func(route string) bool

func (f MatcherFunc) Match(route string) bool {
	return f(route)
}

// Exact matches a single route name.
func Exact(route string) Matcher {
	return MatcherFunc(func(r string) bool { return r == route })
}

// Pattern matches every route the expression matches.
func Pattern(re *regexp.Regexp) Matcher {
	return MatcherFunc(re.MatchString)
}

type middleware struct {
	matcher Matcher // nil matches every route
	handler HandlerFunc
}

// Handle registers the handler chain for route. It panics if route already
// has a handler or the chain is empty.
func (s *Server) Handle(route string, chain ...HandlerFunc) {
	if len(chain) == 0 {
		panic(&ConfigError{Route: route, Reason: "Empty handler chain for route"})
	}
	for _, h := range chain {
		if h == nil {
			panic(&ConfigError{Route: route, Reason: "Nil handler for route"})
		}
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()
	if _, exists := s.routes[route]; exists {
		panic(&ConfigError{Route: route, Reason: "Duplicate handler for route"})
	}
	s.routes[route] = append([]HandlerFunc(nil), chain...)
	s.logger.Debug("Registered route", "route", route, "handlers", len(chain))
}

// Use registers middleware that runs before the handler chain of every
// route, in registration order.
func (s *Server) Use(h HandlerFunc) {
	s.UseFor(nil, h)
}

// UseFor registers middleware that only runs for routes m matches.
func (s *Server) UseFor(m Matcher, h HandlerFunc) {
	if h == nil {
		panic(&ConfigError{Reason: "Nil middleware"})
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	s.middleware = append(s.middleware, middleware{matcher: m, handler: h})
}

// HandleUncaughtError replaces the default status 2 failure response.
func (s *Server) HandleUncaughtError(fn ErrorHandlerFunc) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	s.errHandler = fn
}

// Routes lists the registered route names in order.
func (s *Server) Routes() []string {
	s.rmu.RLock()
	routes := make([]string, 0, len(s.routes))
	for route := range s.routes {
		routes = append(routes, route)
	}
	s.rmu.RUnlock()
	sort.Strings(routes)
	return routes
}

// chain assembles the matching middleware followed by the route's handlers,
// or returns nil when the route has no handler.
func (s *Server) chain(route string) []HandlerFunc {
	s.rmu.RLock()
	defer s.rmu.RUnlock()

	handlers, ok := s.routes[route]
	if !ok {
		return nil
	}
	chain := make([]HandlerFunc, 0, len(s.middleware)+len(handlers))
	for _, mw := range s.middleware {
		if mw.matcher == nil || mw.matcher.Match(route) {
			chain = append(chain, mw.handler)
		}
	}
	return append(chain, handlers...)
}

func (s *Server) errorHandler() ErrorHandlerFunc {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return s.errHandler
}
