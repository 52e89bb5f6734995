package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Make fields public so they can be accessed from other packages.
type AppMetrics struct {
	SignupRequestsTotal     metric.Int64Counter
	SigninRequestsTotal     metric.Int64Counter
	AuthDurationSeconds     metric.Float64Histogram
	PasswordResetsRequested metric.Int64Counter
	PasswordResetsCompleted metric.Int64Counter
	OAuthCallbacksTotal     metric.Int64Counter
	DbQueryDurationSeconds  metric.Float64Histogram
	DbQueryErrorsTotal      metric.Int64Counter
}

var (
	// Global instance of AppMetrics (initialized once)
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() { // Ensure this only runs once
		meter := otel.GetMeterProvider().Meter("UserIdentity") // Get meter from global provider
		var err error
		m := &AppMetrics{}

		m.SignupRequestsTotal, err = meter.Int64Counter(
			"signup_requests_total",
			metric.WithDescription("Total number of signup requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create signup_requests_total: %v", err)
		}

		m.SigninRequestsTotal, err = meter.Int64Counter(
			"signin_requests_total",
			metric.WithDescription("Total number of signin requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create signin_requests_total: %v", err)
		}

		m.AuthDurationSeconds, err = meter.Float64Histogram(
			"auth_duration_seconds",
			metric.WithDescription("Duration of authentication requests in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create auth_duration_seconds: %v", err)
		}

		m.PasswordResetsRequested, err = meter.Int64Counter(
			"password_resets_requested_total",
			metric.WithDescription("Total number of password reset tokens issued"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create password_resets_requested_total: %v", err)
		}

		m.PasswordResetsCompleted, err = meter.Int64Counter(
			"password_resets_completed_total",
			metric.WithDescription("Total number of password reset tokens consumed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create password_resets_completed_total: %v", err)
		}

		m.OAuthCallbacksTotal, err = meter.Int64Counter(
			"oauth_callbacks_total",
			metric.WithDescription("Total number of OAuth provider callbacks handled"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create oauth_callbacks_total: %v", err)
		}

		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		log.Println("Application metrics instruments initialized.")
		appMetrics = m // Assign to global variable
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		// This indicates a programming error - InitAppMetrics must be called at startup.
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}
