// Package health provides the liveness and readiness endpoints.
//
// Liveness only reports that the process is serving. Readiness runs the
// registered checks and folds their results: any unhealthy check makes the
// service unready (503), degraded checks are reported but keep it ready.
//
//	checker := health.NewChecker(version, logger)
//	checker.RegisterCheck("keysets", health.KeySetCheck(resolver, prefetch))
//	checker.RegisterRoutes(engine)
package health
