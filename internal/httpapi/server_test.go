package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/ambient"
	"github.com/antoniostano/careflow/internal/audio"
	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/notify"
	"github.com/antoniostano/careflow/internal/nurse"
	"github.com/antoniostano/careflow/internal/observability"
	"github.com/antoniostano/careflow/internal/protocol"
	"github.com/antoniostano/careflow/internal/record"
	"github.com/antoniostano/careflow/internal/safety"
	"github.com/antoniostano/careflow/internal/session"
)

type staticModel struct {
	reply string
	err   error
}

func (m staticModel) Generate(context.Context, string, []llm.Message) (string, error) {
	return m.reply, m.err
}

type testServer struct {
	ts       *httptest.Server
	recorder *record.InMemoryRecorder
}

func newTestServer(t *testing.T, model llm.Generator, mutate func(*Options)) testServer {
	t.Helper()
	store := session.NewMemoryStore(100, time.Hour)
	rec := record.NewInMemoryRecorder()
	n := notify.NewLocal()
	metrics := observability.NewMetrics("test_httpapi", prometheus.NewRegistry())
	deps := nurse.Deps{
		Sessions:    store,
		Model:       model,
		Recorder:    rec,
		Notifier:    n,
		Metrics:     metrics,
		Logger:      zerolog.Nop(),
		CallTimeout: time.Second,
		MaxTurns:    nurse.DefaultMaxTurns,
	}
	opts := Options{
		Engine:      nurse.NewEngine(deps),
		Intake:      nurse.NewIntake(deps),
		Followup:    nurse.NewFollowup(deps),
		Triage:      nurse.NewTriage(deps),
		Notes:       ambient.NewNoteGenerator(model, metrics, zerolog.Nop(), time.Second),
		Codes:       ambient.NewCodeSuggester(model, metrics, zerolog.Nop(), time.Second),
		Transcriber: ambient.Mock{Text: "Doctor: hello"},
		Escalations: rec,
		Notifier:    n,
		Metrics:     metrics,
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts := httptest.NewServer(New(opts).Router())
	t.Cleanup(ts.Close)
	return testServer{ts: ts, recorder: rec}
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, url, err)
		}
	}
	return res.StatusCode
}

func TestChatHistoryAndEnd(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "Rest and drink fluids."}, nil)

	var reply nurse.Reply
	status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", map[string]string{"message": "I have a mild cold"}, &reply)
	if status != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", status, http.StatusOK)
	}
	if reply.SessionID == "" || !strings.HasPrefix(reply.Message, safety.AIDisclosure) {
		t.Fatalf("reply = %+v, want disclosure and session id", reply)
	}

	var hist historyResponse
	status = doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/chat/"+reply.SessionID+"/history", nil, &hist)
	if status != http.StatusOK || len(hist.History) != 2 {
		t.Fatalf("history status = %d, turns = %d, want 200 and 2", status, len(hist.History))
	}

	var ended map[string]any
	doJSON(t, http.MethodDelete, srv.ts.URL+"/v1/nurse/chat/"+reply.SessionID, nil, &ended)
	if ended["removed"] != true {
		t.Fatalf("delete response = %v, want removed", ended)
	}
	doJSON(t, http.MethodDelete, srv.ts.URL+"/v1/nurse/chat/"+reply.SessionID, nil, &ended)
	if ended["removed"] != false {
		t.Fatalf("second delete response = %v, want removed=false", ended)
	}

	var errBody errorResponse
	status = doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/chat/"+reply.SessionID+"/history", nil, &errBody)
	if status != http.StatusNotFound || errBody.Code != "session_not_found" {
		t.Fatalf("history after delete = %d %+v, want 404", status, errBody)
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "ok"}, nil)

	var errBody errorResponse
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", map[string]string{"message": "  "}, &errBody); status != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", status)
	}
	if errBody.Code != "invalid_request" {
		t.Fatalf("code = %q, want invalid_request", errBody.Code)
	}
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", "{not json", &errBody); status != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", status)
	}
}

func TestChatModelFailureStillAnswers(t *testing.T) {
	srv := newTestServer(t, staticModel{err: &llm.ProviderError{Provider: llm.ProviderOpenAI, StatusCode: 503, Err: errors.New("down")}}, nil)
	var reply nurse.Reply
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", map[string]string{"message": "hello"}, &reply); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if reply.Message != nurse.ChatFallback {
		t.Fatalf("message = %q, want fallback", reply.Message)
	}
}

func TestIntakeAndFollowupRoutes(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "Thanks. Any allergies?"}, nil)

	var started nurse.Reply
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/intake/start", nil, &started); status != http.StatusCreated {
		t.Fatalf("intake start status = %d, want 201", status)
	}
	var reply nurse.Reply
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/intake/"+started.SessionID+"/message", messageRequest{Message: "I'm here for a checkup"}, &reply); status != http.StatusOK {
		t.Fatalf("intake message status = %d, want 200", status)
	}
	var st nurse.IntakeStatus
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/intake/"+started.SessionID, nil, &st); status != http.StatusOK {
		t.Fatalf("intake status = %d, want 200", status)
	}
	if st.MessageCount != 3 || st.Complete {
		t.Fatalf("intake status = %+v, want 3 messages and incomplete", st)
	}
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/intake/missing", nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown intake status = %d, want 404", status)
	}

	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/followup/start", map[string]string{"patient_id": "p1"}, nil); status != http.StatusBadRequest {
		t.Fatalf("followup without discharge date = %d, want 400", status)
	}
	req := nurse.StartFollowupRequest{PatientID: "p1", DischargeDate: "2026-10-01", FollowupType: nurse.Followup7Day}
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/followup/start", req, &started); status != http.StatusCreated {
		t.Fatalf("followup start status = %d, want 201", status)
	}
	var fst nurse.FollowupStatus
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/followup/"+started.SessionID, nil, &fst); status != http.StatusOK {
		t.Fatalf("followup status = %d, want 200", status)
	}
	if fst.FollowupType != nurse.Followup7Day || fst.PatientID != "p1" {
		t.Fatalf("followup status = %+v", fst)
	}
}

func TestTriageEmergencyAndEscalationList(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "{}"}, nil)

	var res nurse.TriageResult
	status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/triage", nurse.TriageRequest{PatientID: "p9", Symptoms: "crushing chest pain"}, &res)
	if status != http.StatusOK {
		t.Fatalf("triage status = %d, want 200", status)
	}
	if res.ESILevel != nurse.ESIImmediate || !res.EscalateToNurse {
		t.Fatalf("triage = %+v, want ESI 1 with escalation", res)
	}
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/triage", nurse.TriageRequest{}, nil); status != http.StatusBadRequest {
		t.Fatalf("empty triage status = %d, want 400", status)
	}

	var chat nurse.Reply
	doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", map[string]string{"message": "I think I'm having a stroke"}, &chat)
	if !chat.Escalation || chat.Urgency != safety.UrgencyImmediate {
		t.Fatalf("chat = %+v, want immediate escalation", chat)
	}

	var list struct {
		Escalations []record.EscalationRecord `json:"escalations"`
		Count       int                       `json:"count"`
	}
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/escalations?limit=10", nil, &list); status != http.StatusOK {
		t.Fatalf("escalations status = %d, want 200", status)
	}
	if list.Count != 1 || list.Escalations[0].SessionID != chat.SessionID {
		t.Fatalf("escalations = %+v, want the chat session", list)
	}
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/escalations?limit=zero", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", status)
	}
}

func TestAmbientNotesAndCodes(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "## Subjective\nCough\n## Plan\nRest (J06.9)"}, nil)
	var note ambient.SOAPNote
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/ambient/notes", notesRequest{Transcript: "Doctor: hi"}, &note); status != http.StatusOK {
		t.Fatalf("notes status = %d, want 200", status)
	}
	if note.Subjective != "Cough" || len(note.ICD10Codes) != 1 || note.ICD10Codes[0].Code != "J06.9" {
		t.Fatalf("note = %+v", note)
	}
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/ambient/codes", codesRequest{}, nil); status != http.StatusBadRequest {
		t.Fatalf("empty codes status = %d, want 400", status)
	}

	failing := newTestServer(t, staticModel{err: errors.New("boom")}, nil)
	var errBody errorResponse
	if status := doJSON(t, http.MethodPost, failing.ts.URL+"/v1/ambient/notes", notesRequest{Transcript: "Doctor: hi"}, &errBody); status != http.StatusBadGateway {
		t.Fatalf("failing notes status = %d, want 502", status)
	}
	if errBody.Code != "model_unavailable" {
		t.Fatalf("code = %q, want model_unavailable", errBody.Code)
	}
}

func multipartAudio(t *testing.T, pcm []byte) (*bytes.Buffer, string) {
	t.Helper()
	wav, err := audio.EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "visit.wav")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	fw.Write(wav)
	mw.WriteField("language", "en")
	mw.Close()
	return &body, mw.FormDataContentType()
}

func TestTranscribeUpload(t *testing.T) {
	srv := newTestServer(t, staticModel{}, nil)
	body, ct := multipartAudio(t, make([]byte, 16000))
	res, err := http.Post(srv.ts.URL+"/v1/ambient/transcribe", ct, body)
	if err != nil {
		t.Fatalf("POST transcribe error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transcribe status = %d, want 200", res.StatusCode)
	}
	var tr ambient.Transcript
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if tr.Text != "Doctor: hello" || tr.DurationSeconds != 0.5 {
		t.Fatalf("transcript = %+v", tr)
	}

	res2, err := http.Post(srv.ts.URL+"/v1/ambient/transcribe", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST transcribe error = %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart status = %d, want 400", res2.StatusCode)
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	srv := newTestServer(t, staticModel{}, func(o *Options) { o.MaxAudioBytes = 1024 })
	body, ct := multipartAudio(t, make([]byte, 4096))
	res, err := http.Post(srv.ts.URL+"/v1/ambient/transcribe", ct, body)
	if err != nil {
		t.Fatalf("POST transcribe error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", res.StatusCode)
	}
}

func TestOptionalRoutesUnavailable(t *testing.T) {
	srv := newTestServer(t, staticModel{}, func(o *Options) {
		o.Transcriber = nil
		o.Escalations = nil
	})
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/nurse/escalations", nil, nil); status != http.StatusServiceUnavailable {
		t.Fatalf("escalations status = %d, want 503", status)
	}
	body, ct := multipartAudio(t, make([]byte, 64))
	res, err := http.Post(srv.ts.URL+"/v1/ambient/transcribe", ct, body)
	if err != nil {
		t.Fatalf("POST transcribe error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("transcribe status = %d, want 503", res.StatusCode)
	}
}

func TestHealthReadyAndLatency(t *testing.T) {
	srv := newTestServer(t, staticModel{}, func(o *Options) {
		o.Ready = func(context.Context) error { return errors.New("database down") }
	})
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/healthz", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", status)
	}
	var errBody errorResponse
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/readyz", nil, &errBody); status != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", status)
	}
	var snap observability.LatencySnapshot
	if status := doJSON(t, http.MethodGet, srv.ts.URL+"/v1/ops/latency", nil, &snap); status != http.StatusOK {
		t.Fatalf("latency status = %d, want 200", status)
	}
	if snap.GeneratedAt.IsZero() {
		t.Fatalf("latency snapshot missing generated_at")
	}
}

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestChatWebSocket(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "Try to rest."}, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.ts.URL, "/v1/nurse/chat/ws?session_id=ws-1"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready protocol.SessionReady
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("read session_ready: %v", err)
	}
	if ready.Type != protocol.TypeSessionReady || ready.SessionID != "ws-1" {
		t.Fatalf("ready = %+v", ready)
	}

	conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, Message: "I feel tired"})
	var reply protocol.ChatReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read chat_reply: %v", err)
	}
	if reply.Type != protocol.TypeChatReply || reply.SessionID != "ws-1" || !strings.HasSuffix(reply.Message, "Try to rest.") {
		t.Fatalf("reply = %+v", reply)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`))
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error_event: %v", err)
	}
	if errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", errEvent)
	}

	conn.WriteJSON(protocol.EndSession{Type: protocol.TypeEndSession, SessionID: "ws-1"})
	var ended protocol.SessionEnded
	if err := conn.ReadJSON(&ended); err != nil {
		t.Fatalf("read session_ended: %v", err)
	}
	if !ended.Removed {
		t.Fatalf("ended = %+v, want removed", ended)
	}
}

func TestEscalationStream(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "ok"}, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.ts.URL, "/v1/nurse/escalations/stream"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var chat nurse.Reply
	doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", map[string]string{"message": "my child is choking"}, &chat)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev protocol.EscalationEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read escalation: %v", err)
	}
	if ev.Type != protocol.TypeEscalation || ev.SessionID != chat.SessionID || ev.Urgency != string(safety.UrgencyImmediate) {
		t.Fatalf("event = %+v, want immediate escalation for %s", ev, chat.SessionID)
	}
}

func TestChatOnIntakeSession(t *testing.T) {
	srv := newTestServer(t, staticModel{reply: "ok"}, nil)
	var started nurse.Reply
	if status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/intake/start", nil, &started); status != http.StatusCreated {
		t.Fatalf("intake start status = %d, want 201", status)
	}

	var errBody errorResponse
	status := doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", nurse.ChatRequest{Message: "hello", SessionID: started.SessionID}, &errBody)
	if status != http.StatusBadRequest {
		t.Fatalf("plain message status = %d, want 400", status)
	}

	var reply nurse.Reply
	status = doJSON(t, http.MethodPost, srv.ts.URL+"/v1/nurse/chat", nurse.ChatRequest{Message: "severe chest pain", SessionID: started.SessionID}, &reply)
	if status != http.StatusOK {
		t.Fatalf("emergency status = %d, want 200", status)
	}
	if reply.Message != safety.EmergencyResponse || !reply.Escalation {
		t.Fatalf("reply = %+v, want emergency response", reply)
	}
}
