package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestNewHealthChecker(t *testing.T) {
	t.Run("with nil dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "test")
		if checker == nil {
			t.Fatal("Expected non-nil checker")
		}
		if checker.db != nil {
			t.Error("Expected nil db")
		}
		if checker.redis != nil {
			t.Error("Expected nil redis")
		}
	})

	t.Run("with database", func(t *testing.T) {
		db, _, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		checker := NewHealthChecker(db, nil, "test")
		if checker.db == nil {
			t.Error("Expected non-nil db")
		}
	})

	t.Run("with redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		defer mr.Close()

		redisClient := redis.NewClient(&redis.Options{
			Addr: mr.Addr(),
		})
		defer redisClient.Close()

		checker := NewHealthChecker(nil, redisClient, "test")
		if checker.redis == nil {
			t.Error("Expected non-nil redis")
		}
	})
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")

	req := httptest.NewRequest("GET", "/health/live", nil)
	rr := httptest.NewRecorder()

	checker.Liveness(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Liveness check returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	contentType := rr.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response["status"] != StatusHealthy {
		t.Errorf("Expected status %q, got %v", StatusHealthy, response["status"])
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		defer mr.Close()

		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer redisClient.Close()

		checker := NewHealthChecker(db, redisClient, "1.2.3")
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("Expected status %q, got %q", StatusHealthy, status.Status)
		}
		if status.Version != "1.2.3" {
			t.Errorf("Expected version 1.2.3, got %q", status.Version)
		}
		if status.Dependencies["database"].Status != StatusHealthy {
			t.Errorf("Expected healthy database, got %q", status.Dependencies["database"].Status)
		}
		if status.Dependencies["redis"].Status != StatusHealthy {
			t.Errorf("Expected healthy redis, got %q", status.Dependencies["redis"].Status)
		}
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection failed"))

		checker := NewHealthChecker(db, nil, "test")
		status := checker.Check(context.Background())

		if status.Status != StatusUnhealthy {
			t.Errorf("Expected status %q, got %q", StatusUnhealthy, status.Status)
		}
		dep := status.Dependencies["database"]
		if dep.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy database, got %q", dep.Status)
		}
		if dep.Message == "" {
			t.Error("Expected failure message on database dependency")
		}
	})

	t.Run("redis down degrades but does not fail", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer redisClient.Close()

		// Kill redis before the check
		mr.Close()

		checker := NewHealthChecker(db, redisClient, "test")
		status := checker.Check(context.Background())

		if status.Status != StatusDegraded {
			t.Errorf("Expected status %q, got %q", StatusDegraded, status.Status)
		}
		if status.Dependencies["redis"].Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy redis dependency, got %q", status.Dependencies["redis"].Status)
		}
	})

	t.Run("nil dependencies are skipped", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "test")
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("Expected status %q, got %q", StatusHealthy, status.Status)
		}
		if len(status.Dependencies) != 0 {
			t.Errorf("Expected no dependencies, got %v", status.Dependencies)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("healthy returns 200", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		checker := NewHealthChecker(db, nil, "test")

		req := httptest.NewRequest("GET", "/health/ready", nil)
		rr := httptest.NewRecorder()
		checker.Readiness(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rr.Code)
		}

		contentType := rr.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", contentType)
		}

		var status HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %q", status.Status)
		}
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection failed"))

		checker := NewHealthChecker(db, nil, "test")

		req := httptest.NewRequest("GET", "/health/ready", nil)
		rr := httptest.NewRecorder()
		checker.Readiness(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rr.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %q", status.Status)
		}
	})

	t.Run("degraded still returns 200", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer redisClient.Close()
		mr.Close()

		checker := NewHealthChecker(nil, redisClient, "test")

		req := httptest.NewRequest("GET", "/health/ready", nil)
		rr := httptest.NewRecorder()
		checker.Readiness(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected 200 for degraded, got %d", rr.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded, got %q", status.Status)
		}
	})
}

func TestRegisterHealthRoutes(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, checker)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("GET %s returned %d, want 200", path, rr.Code)
		}
	}
}
