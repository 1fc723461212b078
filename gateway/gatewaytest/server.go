// Package gatewaytest provides an in-memory pipeline backend for tests.
package gatewaytest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"sdpdash/events"
	"sdpdash/gateway"
)

// Operation names used for failure injection and call counting.
const (
	OpGenerate      = "generate"
	OpProcess       = "process"
	OpUpload        = "upload"
	OpStudents      = "students"
	OpClasses       = "classes"
	OpAnalytics     = "analytics"
	OpExport        = "export"
	OpNotifications = "notifications"
	OpUnreadCount   = "unread-count"
	OpMarkRead      = "mark-read"
	OpMarkAllRead   = "mark-all-read"
	OpFeature       = "feature-request"
	OpChangelog     = "changelog"
	OpStream        = "stream"
)

var classes = []string{"Class1", "Class2", "Class3", "Class4", "Class5"}

type failure struct {
	status    int
	body      string
	transport bool
}

// Server is a fake backend. Generated files are written to Dir and the
// processing rules match the real backend: process adds 10 to each score and
// upload adds 5.
type Server struct {
	*httptest.Server

	dir    string
	broker *events.Broker
	done   chan struct{}
	once   sync.Once

	mu            sync.Mutex
	students      []gateway.Student
	notifications []gateway.Notification
	changelog     []gateway.ChangelogEntry
	features      []gateway.FeatureRequest
	failures      map[string]failure
	gates         map[string]chan struct{}
	calls         map[string]int
	drop          chan struct{}
	nextID        int64
	retry         time.Duration
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		dir:      t.TempDir(),
		broker:   events.NewBroker(nil),
		done:     make(chan struct{}),
		failures: make(map[string]failure),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
		drop:     make(chan struct{}),
		retry:    20 * time.Millisecond,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// APIURL is the base URL to hand to gateway.New.
func (s *Server) APIURL() string { return s.URL + "/api" }

// Dir is the output directory for generated and processed files.
func (s *Server) Dir() string { return s.dir }

// Close stops streams, releases blocked handlers and shuts the server down.
func (s *Server) Close() {
	s.once.Do(func() {
		close(s.done)
		s.Server.Close()
	})
}

// Fail makes op answer with status and body until Recover is called.
func (s *Server) Fail(op string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = failure{status: status, body: body}
}

// FailTransport makes op drop the connection without a response.
func (s *Server) FailTransport(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = failure{transport: true}
}

// Recover clears any failure injected for op.
func (s *Server) Recover(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

// Block holds every request for op until the returned func is called.
func (s *Server) Block(op string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[op] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[op] == gate {
				delete(s.gates, op)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many requests op has received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Students returns a copy of the persisted records.
func (s *Server) Students() []gateway.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.Student(nil), s.students...)
}

// SeedStudents replaces the persisted records.
func (s *Server) SeedStudents(students ...gateway.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = append([]gateway.Student(nil), students...)
}

// FeatureRequests returns every submitted request.
func (s *Server) FeatureRequests() []gateway.FeatureRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.FeatureRequest(nil), s.features...)
}

// AddNotification stores an unread notification and returns its id.
func (s *Server) AddNotification(typ gateway.NotificationType, message string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNotificationLocked(typ, message, "")
}

// Notifications returns the stored notifications.
func (s *Server) Notifications() []gateway.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.Notification(nil), s.notifications...)
}

// SetChangelog replaces the stored changelog, newest first.
func (s *Server) SetChangelog(entries ...gateway.ChangelogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changelog = append([]gateway.ChangelogEntry(nil), entries...)
}

// Push stores entry and sends it to every open stream.
func (s *Server) Push(entry gateway.ChangelogEntry) {
	s.mu.Lock()
	s.changelog = append([]gateway.ChangelogEntry{entry}, s.changelog...)
	s.mu.Unlock()
	s.broker.Broadcast("changelog-update", entry)
}

// Streams returns the number of connected stream clients.
func (s *Server) Streams() int { return s.broker.Clients() }

// DropStreams closes every open stream connection.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.drop)
	s.drop = make(chan struct{})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", s.handle(OpGenerate, s.generate))
	mux.HandleFunc("POST /api/process", s.handle(OpProcess, s.process))
	mux.HandleFunc("POST /api/upload", s.handle(OpUpload, s.upload))
	mux.HandleFunc("GET /api/students", s.handle(OpStudents, s.listStudents))
	mux.HandleFunc("GET /api/students/classes", s.handle(OpClasses, s.listClasses))
	mux.HandleFunc("GET /api/students/export/{format}", s.handle(OpExport, s.export))
	mux.HandleFunc("GET /api/analytics/summary", s.handle(OpAnalytics, s.analytics))
	mux.HandleFunc("GET /api/notifications", s.handle(OpNotifications, s.listNotifications))
	mux.HandleFunc("GET /api/notifications/unread-count", s.handle(OpUnreadCount, s.unreadCount))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handle(OpMarkRead, s.markRead))
	mux.HandleFunc("POST /api/notifications/read-all", s.handle(OpMarkAllRead, s.markAllRead))
	mux.HandleFunc("POST /api/feature-requests", s.handle(OpFeature, s.featureRequest))
	mux.HandleFunc("GET /api/changelog", s.handle(OpChangelog, s.listChangelog))
	mux.HandleFunc("GET /api/changelog/stream", s.handle(OpStream, s.stream))
	return mux
}

func (s *Server) handle(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[op]++
		f, failing := s.failures[op]
		gate := s.gates[op]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			case <-s.done:
				return
			}
		}

		if failing {
			if f.transport {
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, err := hj.Hijack(); err == nil {
						conn.Close()
						return
					}
				}
				panic(http.ErrAbortHandler)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			io.WriteString(w, f.body)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 1 || count > 1_000_000 {
		writeError(w, http.StatusBadRequest, "Count must be between 1 and 1000000")
		return
	}

	rng := rand.New(rand.NewSource(int64(count)))
	rows := make([][]string, 0, count)
	for i := 1; i <= count; i++ {
		rows = append(rows, []string{
			strconv.Itoa(i),
			randomName(rng),
			randomName(rng),
			fmt.Sprintf("%04d-%02d-%02d", 2000+rng.Intn(11), 1+rng.Intn(12), 1+rng.Intn(28)),
			classes[rng.Intn(len(classes))],
			strconv.Itoa(55 + rng.Intn(21)),
		})
	}

	name := fmt.Sprintf("students_%d.xlsx", time.Now().UnixNano())
	if err := writeRows(filepath.Join(s.dir, name), rows); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.addNotificationLocked(gateway.NotificationGeneration, fmt.Sprintf("Generated %d student records", count), name)
	s.mu.Unlock()

	writeJSON(w, map[string]string{"filename": name})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	rows, name, ok := readUpload(w, r, ".xlsx", ".xls")
	if !ok {
		return
	}
	for _, row := range rows {
		row[5] = bumpScore(row[5], 10)
	}

	out := strings.TrimSuffix(name, filepath.Ext(name)) + ".csv"
	if err := writeRows(filepath.Join(s.dir, out), rows); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.addNotificationLocked(gateway.NotificationProcessing, "Excel file processed to CSV", out)
	s.mu.Unlock()

	writeJSON(w, map[string]string{"filename": out})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	rows, _, ok := readUpload(w, r, ".csv")
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		score, _ := strconv.ParseFloat(bumpScore(row[5], 5), 64)
		s.nextID++
		s.students = append(s.students, gateway.Student{
			ID:           s.nextID,
			StudentID:    row[0],
			FirstName:    row[1],
			LastName:     row[2],
			DOB:          row[3],
			StudentClass: row[4],
			Score:        score,
		})
	}
	s.addNotificationLocked(gateway.NotificationUpload, fmt.Sprintf("Uploaded %d records", len(rows)), "")

	writeJSON(w, map[string]int{"count": len(rows)})
}

func (s *Server) filtered(search, class string) []gateway.Student {
	var out []gateway.Student
	for _, st := range s.students {
		if search != "" && !strings.Contains(strings.ToLower(st.StudentID), strings.ToLower(search)) {
			continue
		}
		if class != "" && st.StudentClass != class {
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	if size <= 0 {
		size = 25
	}

	s.mu.Lock()
	all := s.filtered(q.Get("search"), q.Get("class"))
	s.mu.Unlock()

	start := min(page*size, len(all))
	end := min(start+size, len(all))
	writeJSON(w, gateway.StudentPage{
		Content:       append([]gateway.Student{}, all[start:end]...),
		TotalElements: int64(len(all)),
	})
}

func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	seen := make(map[string]bool)
	out := []string{}
	for _, st := range s.students {
		if !seen[st.StudentClass] {
			seen[st.StudentClass] = true
			out = append(out, st.StudentClass)
		}
	}
	s.mu.Unlock()
	sort.Strings(out)
	writeJSON(w, out)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format := gateway.ExportFormat(r.PathValue("format"))
	if !format.Valid() {
		writeError(w, http.StatusBadRequest, "Unsupported format")
		return
	}
	q := r.URL.Query()
	s.mu.Lock()
	rows := s.filtered(q.Get("search"), q.Get("class"))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	fmt.Fprintf(w, "%s:%d\n", format, len(rows))
	for _, st := range rows {
		fmt.Fprintf(w, "%s,%s,%s,%g\n", st.StudentID, st.FirstName, st.LastName, st.Score)
	}
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := gateway.Analytics{ClassDistribution: map[string]int64{}, RecentRecords: []gateway.Student{}}
	var sum float64
	for i, st := range s.students {
		out.TotalStudents++
		sum += st.Score
		if i == 0 || st.Score > out.HighestScore {
			out.HighestScore = st.Score
		}
		if i == 0 || st.Score < out.LowestScore {
			out.LowestScore = st.Score
		}
		out.ClassDistribution[st.StudentClass]++
	}
	if out.TotalStudents > 0 {
		out.AverageScore = sum / float64(out.TotalStudents)
	}
	for i := len(s.students) - 1; i >= 0 && len(out.RecentRecords) < 5; i-- {
		out.RecentRecords = append(out.RecentRecords, s.students[i])
	}
	writeJSON(w, out)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]gateway.Notification{}, s.notifications...)
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := 0
	for _, note := range s.notifications {
		if !note.Read {
			n++
		}
	}
	s.mu.Unlock()
	writeJSON(w, n)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Notification not found")
}

func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) featureRequest(w http.ResponseWriter, r *http.Request) {
	var fr gateway.FeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&fr); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.mu.Lock()
	s.features = append(s.features, fr)
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) listChangelog(w http.ResponseWriter, r *http.Request) {
	component := gateway.Component(r.URL.Query().Get("component"))
	s.mu.Lock()
	out := []gateway.ChangelogEntry{}
	for _, e := range s.changelog {
		if component == "" || e.Component == component {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.mu.Lock()
	drop := s.drop
	retry := s.retry
	s.mu.Unlock()

	client := make(chan string, 16)
	s.broker.Register(client)
	defer s.broker.Unregister(client)

	fmt.Fprintf(w, "retry: %d\n: connected\n\n", retry.Milliseconds())
	flusher.Flush()

	for {
		select {
		case msg := <-client:
			io.WriteString(w, msg)
			flusher.Flush()
		case <-drop:
			return
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) addNotificationLocked(typ gateway.NotificationType, message, details string) int64 {
	id := int64(len(s.notifications) + 1)
	s.notifications = append([]gateway.Notification{{
		ID:        id,
		Type:      typ,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now().UTC().Format("2006-01-02T15:04:05"),
	}}, s.notifications...)
	return id
}

// readUpload parses the multipart "file" field. Generated workbooks are
// stored as CSV text so both stages can read them the same way.
func readUpload(w http.ResponseWriter, r *http.Request, exts ...string) ([][]string, string, bool) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required")
		return nil, "", false
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := false
	for _, e := range exts {
		if ext == e {
			allowed = true
		}
	}
	if !allowed {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %s", ext))
		return nil, "", false
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return nil, "", false
	}
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil || len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid file content")
		return nil, "", false
	}
	rows = rows[1:]
	for _, row := range rows {
		if len(row) != 6 {
			writeError(w, http.StatusBadRequest, "Invalid file content")
			return nil, "", false
		}
	}
	return rows, header.Filename, true
}

func writeRows(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	cw.Write([]string{"studentId", "firstName", "lastName", "dob", "studentClass", "score"})
	cw.WriteAll(rows)
	return cw.Error()
}

func bumpScore(v string, by float64) string {
	score, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(score+by, 'f', -1, 64)
}

func randomName(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	n := 3 + rng.Intn(6)
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	b[0] -= 'a' - 'A'
	return string(b)
}
