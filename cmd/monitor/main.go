package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"cyber_range/internal/domain"
	"cyber_range/internal/engine"
)

type client struct {
	baseURL string
	http    *http.Client
}

type embeddedEngine struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8092", "engine base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", true, "start engine in the same monitor process lifecycle")
	engineBinary := flag.String("engine-bin", "", "path to engine binary (optional in embedded mode)")
	dbPath := flag.String("db", "data/embedded.db", "sqlite db path for embedded engine")
	scenarioPath := flag.String("scenario", "", "scenario file for embedded engine")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	var embeddedProc *embeddedEngine
	var err error
	if *embedded {
		embeddedProc, err = startEmbeddedEngine(*addr, *engineBinary, *dbPath, *scenarioPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded engine: %v\n", err)
			os.Exit(1)
		}
		defer embeddedProc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "engine health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	roundsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	roundsTable.SetTitle("Rounds (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	tasksView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tasksView.SetTitle("Available Tasks").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Events").SetBorder(true)

	analyticsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	analyticsView.SetTitle("Analytics").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("New round (red blue): ")
	promptInput.SetBorder(true).SetTitle("Enter = start round")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+R focus rounds",
		c.baseURL,
		*embedded,
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tasksView, 0, 2, false).
		AddItem(analyticsView, 11, 0, false).
		AddItem(eventsView, 0, 3, false)

	mainLayout := tview.NewFlex().
		AddItem(roundsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedRoundID string
	var lastRounds []domain.Round
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshRounds := func() {
		rounds, err := c.listRounds()
		if err != nil {
			app.QueueUpdateDraw(func() {
				roundsTable.Clear()
				roundsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastRounds = rounds
		app.QueueUpdateDraw(func() {
			renderRoundsTable(roundsTable, rounds, selectedRoundID)
		})
	}

	refreshDetailsAsync := func(roundID string) {
		if strings.TrimSpace(roundID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)
		app.QueueUpdateDraw(func() {
			tasksView.SetText("Loading...")
			eventsView.SetText("Loading...")
			analyticsView.SetText("Loading...")
		})

		go func(selected string, v uint64) {
			type statusResult struct {
				view engine.RoundStatusView
				err  error
			}
			type eventsResult struct {
				items []domain.Event
				err   error
			}
			type analyticsResult struct {
				data engine.Analytics
				err  error
			}

			statusCh := make(chan statusResult, 1)
			eventsCh := make(chan eventsResult, 1)
			analyticsCh := make(chan analyticsResult, 1)

			go func() {
				view, err := c.roundStatus(selected)
				statusCh <- statusResult{view: view, err: err}
			}()
			go func() {
				items, err := c.roundEvents(selected)
				eventsCh <- eventsResult{items: items, err: err}
			}()
			go func() {
				data, err := c.roundAnalytics(selected)
				analyticsCh <- analyticsResult{data: data, err: err}
			}()

			statusRes := <-statusCh
			eventsRes := <-eventsCh
			analyticsRes := <-analyticsCh

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedRoundID {
					return
				}
				if statusRes.err != nil {
					tasksView.SetText(fmt.Sprintf("error: %v", statusRes.err))
				} else {
					tasksView.SetText(renderTasks(statusRes.view))
				}
				if eventsRes.err != nil {
					eventsView.SetText(fmt.Sprintf("error: %v", eventsRes.err))
				} else {
					eventsView.SetText(renderEvents(eventsRes.items))
				}
				if analyticsRes.err != nil {
					analyticsView.SetText(fmt.Sprintf("error: %v", analyticsRes.err))
				} else {
					analyticsView.SetText(renderAnalytics(analyticsRes.data))
				}
			})
		}(roundID, version)
	}

	submitPrompt := func(prompt string) {
		fields := strings.Fields(prompt)
		setStatusUI("Starting round...")
		promptInput.SetText("")
		go func() {
			red, blue := "red", "blue"
			if len(fields) > 0 {
				red = fields[0]
			}
			if len(fields) > 1 {
				blue = fields[1]
			}
			roundID, err := c.startRound(red, blue)
			if err != nil {
				setStatusAsync("Failed to start round: " + err.Error())
				return
			}
			selectedRoundID = roundID
			refreshRounds()
			refreshDetailsAsync(selectedRoundID)
			setStatusAsync("Round started: " + roundID)
		}()
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	roundsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastRounds) {
			return
		}
		selectedRoundID = lastRounds[row-1].ID
		refreshDetailsAsync(selectedRoundID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(roundsTable)
				setStatusUI("Focus -> rounds")
				return nil
			}
			return event
		}

		if event.Key() == tcell.KeyEscape {
			app.SetFocus(roundsTable)
			setStatusUI("Focus -> rounds")
			return nil
		}
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			refreshRounds()
			refreshDetailsAsync(selectedRoundID)
			setStatusUI("Manual refresh complete")
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyCtrlR:
			app.SetFocus(roundsTable)
			setStatusUI("Focus -> rounds")
			return nil
		}
		if event.Key() == tcell.KeyTAB {
			app.SetFocus(promptInput)
			return nil
		}
		if event.Key() == tcell.KeyRune {
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshRounds()
		if len(lastRounds) > 0 {
			selectedRoundID = lastRounds[0].ID
			refreshDetailsAsync(selectedRoundID)
		}

		for range ticker.C {
			refreshRounds()
			if selectedRoundID == "" && len(lastRounds) > 0 {
				selectedRoundID = lastRounds[0].ID
			}
			refreshDetailsAsync(selectedRoundID)
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func startEmbeddedEngine(addr string, engineBinary string, dbPath string, scenarioPath string) (*embeddedEngine, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	addrArg := ":" + port

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	args := []string{"--addr", addrArg, "--db", dbPath}
	if strings.TrimSpace(scenarioPath) != "" {
		args = append(args, "--scenario", scenarioPath)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(engineBinary) != "" {
		cmd = exec.Command(engineBinary, args...)
	} else {
		self, err := os.Executable()
		if err == nil {
			sibling := filepath.Join(filepath.Dir(self), "engine")
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/engine"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine process: %w", err)
	}

	return &embeddedEngine{cmd: cmd}, nil
}

func (e *embeddedEngine) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func renderRoundsTable(table *tview.Table, rounds []domain.Round, selectedRoundID string) {
	table.Clear()
	headers := []string{"Round", "Phase", "Red", "Blue", "Score", "Ends"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range rounds {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.ID)))
		table.SetCell(row, 1, tview.NewTableCell(r.CurrentPhase))
		table.SetCell(row, 2, tview.NewTableCell(r.RedTeam))
		table.SetCell(row, 3, tview.NewTableCell(r.BlueTeam))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%d:%d", r.RedScore, r.BlueScore)))
		table.SetCell(row, 5, tview.NewTableCell(r.EndsAt.Local().Format("15:04:05")))
		if r.ID == selectedRoundID {
			table.Select(row, 0)
		}
	}
}

func renderTasks(view engine.RoundStatusView) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(
		"Phase: %s  burn=%s  completed=%d\n\n",
		view.Round.CurrentPhase,
		view.BurnState,
		len(view.Round.CompletedTasks),
	))
	if len(view.AvailableTasks) == 0 {
		b.WriteString("No available tasks")
		return b.String()
	}
	sort.Slice(view.AvailableTasks, func(i, j int) bool {
		if view.AvailableTasks[i].Team != view.AvailableTasks[j].Team {
			return view.AvailableTasks[i].Team < view.AvailableTasks[j].Team
		}
		return view.AvailableTasks[i].ID < view.AvailableTasks[j].ID
	})
	for _, task := range view.AvailableTasks {
		marker := " "
		if task.Required {
			marker = "*"
		}
		b.WriteString(fmt.Sprintf(
			"%s [%-4s] %-26s %4dpt  %s\n",
			marker, task.Team, task.ID, task.Points, trimLine(task.Name, 40),
		))
	}
	return b.String()
}

func renderEvents(items []domain.Event) string {
	if len(items) == 0 {
		return "No events"
	}
	var b strings.Builder
	for i := len(items) - 1; i >= 0; i-- {
		evt := items[i]
		b.WriteString(fmt.Sprintf(
			"[%s] %s\n",
			evt.CreatedAt.Local().Format("15:04:05"),
			evt.Type,
		))
		if detail := payloadSummary(evt.Payload); detail != "" {
			b.WriteString("  " + trimLine(detail, 160) + "\n")
		}
	}
	return b.String()
}

func renderAnalytics(data engine.Analytics) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Score: red=%d blue=%d\n", data.RedScore, data.BlueScore))
	b.WriteString(fmt.Sprintf(
		"Trace: total=%d level=%d burn=%s\n",
		data.Trace.CurrentTrace, data.Trace.CurrentLevel, data.Trace.CurrentBurnState,
	))
	b.WriteString(fmt.Sprintf(
		"Tools: runs=%d success=%.0f%%\n",
		data.Executions, data.SuccessRate*100,
	))
	b.WriteString(fmt.Sprintf(
		"Tasks: red=%d blue=%d\n",
		data.CompletedByTeam[domain.TeamRed], data.CompletedByTeam[domain.TeamBlue],
	))
	if len(data.CriticalPath) > 0 {
		b.WriteString(fmt.Sprintf(
			"Critical path (%d): %s\n",
			data.CriticalPathLength, trimLine(strings.Join(data.CriticalPath, " > "), 140),
		))
	}
	return b.String()
}

func payloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func (c *client) startRound(red, blue string) (string, error) {
	var round domain.Round
	if err := c.postJSON("/rounds", map[string]any{
		"red_team":  red,
		"blue_team": blue,
	}, &round); err != nil {
		return "", err
	}
	return round.ID, nil
}

func (c *client) listRounds() ([]domain.Round, error) {
	var out []domain.Round
	if err := c.getJSON("/rounds", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) roundStatus(roundID string) (engine.RoundStatusView, error) {
	var out engine.RoundStatusView
	if err := c.getJSON("/rounds/"+roundID, &out); err != nil {
		return engine.RoundStatusView{}, err
	}
	return out, nil
}

func (c *client) roundEvents(roundID string) ([]domain.Event, error) {
	var out []domain.Event
	if err := c.getJSON("/rounds/"+roundID+"/events", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) roundAnalytics(roundID string) (engine.Analytics, error) {
	var out engine.Analytics
	if err := c.getJSON("/rounds/"+roundID+"/analytics", &out); err != nil {
		return engine.Analytics{}, err
	}
	return out, nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return err
	}
	return nil
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return err
	}
	return nil
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
