package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cyber_range/internal/agents"
	"cyber_range/internal/config"
	"cyber_range/internal/domain"
	"cyber_range/internal/engine"
	"cyber_range/internal/messaging/inproc"
	"cyber_range/internal/mission"
	"cyber_range/internal/sim"
	sqlitestore "cyber_range/internal/store/sqlite"
	"cyber_range/internal/tools"
	"cyber_range/internal/trace"
)

type app struct {
	cfg    config.Config
	engine *engine.Engine
	store  *sqlitestore.Store
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.cyber_range/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	scenarioFlag := flag.String("scenario", "", "scenario file override (default: built-in scenario)")
	demo := flag.Bool("demo", false, "start a demo round on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := firstNonEmpty(*addrFlag, cfg.Engine.Addr, ":8092")
	dbPath := firstNonEmpty(*dbPathFlag, cfg.Engine.DBPath, "data/cyber_range.db")
	scenarioPath := firstNonEmpty(*scenarioFlag, cfg.Engine.ScenarioPath, "")
	dbPath = filepath.Clean(dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}

	scenario := mission.Default()
	if scenarioPath != "" {
		scenario, err = mission.Load(scenarioPath)
		if err != nil {
			log.Fatalf("load scenario %s: %v", scenarioPath, err)
		}
	}
	if err := mission.Validate(scenario); err != nil {
		log.Fatalf("validate scenario: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	bus := inproc.New(intOrDefault(cfg.Engine.EventBufferSize, 256))
	pipeline := tools.NewPipeline(scenario.Tools, sim.New(), tools.Config{})
	traces := trace.NewAccumulator()

	engCfg := engine.Config{
		RoundDuration: durationMinutes(cfg.Engine.RoundDurationMinutes, scenario.RoundDuration),
		PollInterval:  durationMS(cfg.Engine.PollIntervalMS, 5*time.Second),
	}
	eng := engine.New(scenario, pipeline, store, bus, traces, engCfg, log.Default())
	eng.Start(ctx)

	if *demo {
		round, err := eng.StartRound(ctx, engine.StartRoundInput{RedTeam: "crimson", BlueTeam: "azure"})
		if err != nil {
			log.Printf("demo round failed: %v", err)
		} else {
			log.Printf("demo round started id=%s", round.ID)
		}
	}

	a := &app{
		cfg:    cfg,
		engine: eng,
		store:  store,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/rounds", a.handleRounds)
	mux.HandleFunc("/rounds/", a.handleRoundByID)

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"cyber_range engine started addr=%s db=%s scenario=%s phases=%d tasks=%d tools=%d",
		addr,
		dbPath,
		firstNonEmpty(scenarioPath, "built-in"),
		len(scenario.Phases),
		len(scenario.Tasks),
		len(scenario.Tools),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

func (a *app) handleRounds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.engine.ListRounds(r.Context()))
	case http.MethodPost:
		var req struct {
			RoundID  string `json:"round_id"`
			RedTeam  string `json:"red_team"`
			BlueTeam string `json:"blue_team"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		round, err := a.engine.StartRound(r.Context(), engine.StartRoundInput{
			RoundID:  req.RoundID,
			RedTeam:  req.RedTeam,
			BlueTeam: req.BlueTeam,
		})
		if err != nil {
			if errors.Is(err, engine.ErrRoundIDInUse) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, round)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleRoundByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/rounds/")
	parts := strings.Split(trimmed, "/")
	roundID := parts[0]
	if roundID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("round id is required"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, err := a.engine.RoundStatus(r.Context(), roundID)
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	switch parts[1] {
	case "tasks":
		a.handleRoundTasks(w, r, roundID, parts[2:])
	case "tools":
		a.handleRoundTools(w, r, roundID, parts[2:])
	case "analytics":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		analytics, err := a.engine.RoundAnalytics(r.Context(), roundID)
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, analytics)
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, err := a.engine.RoundEvents(roundID)
		if err != nil {
			// Ended rounds keep their event log in the archive.
			events, err = a.store.ListRoundEvents(r.Context(), roundID, 0)
			if err != nil {
				a.writeEngineError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, events)
	case "end":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		summary, err := a.engine.EndRound(r.Context(), roundID)
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", parts[1]))
	}
}

func (a *app) handleRoundTasks(w http.ResponseWriter, r *http.Request, roundID string, rest []string) {
	if len(rest) < 2 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("task id and action are required"))
		return
	}
	taskID, action := rest[0], rest[1]
	switch action {
	case "complete":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TimeBonus    float64 `json:"time_bonus"`
			StealthBonus float64 `json:"stealth_bonus"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		completion, err := a.engine.CompleteTask(r.Context(), roundID, taskID, domain.CompletionData{
			TimeBonus:    req.TimeBonus,
			StealthBonus: req.StealthBonus,
		})
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, completion)
	case "validate":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		validation, err := a.engine.ValidateTaskCompletion(r.Context(), roundID, taskID)
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, validation)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown task action: %s", action))
	}
}

func (a *app) handleRoundTools(w http.ResponseWriter, r *http.Request, roundID string, rest []string) {
	if len(rest) == 0 || rest[0] == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		agentID := strings.TrimSpace(r.URL.Query().Get("agent"))
		if agentID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("agent query parameter is required"))
			return
		}
		available, err := a.engine.AvailableTools(r.Context(), roundID, agentID)
		if err != nil {
			a.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, available)
		return
	}

	if len(rest) < 2 || rest[1] != "execute" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown tool action"))
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	toolID := rest[0]
	var req struct {
		AgentID string         `json:"agent_id"`
		Target  string         `json:"target"`
		Params  map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent_id is required"))
		return
	}
	outcome, err := a.engine.ExecuteTool(r.Context(), roundID, toolID, req.AgentID, req.Target, req.Params)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (a *app) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrRoundNotFound),
		errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, sqlitestore.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, agents.ErrMalformedAgentID),
		errors.Is(err, agents.ErrUnknownArchetype):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func durationMinutes(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Minute
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
