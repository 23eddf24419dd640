package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	sandbox "github.com/chatdesk/chatdesk/console/internal/interfaces/http"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/http/handlers"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

var admin = entity.Identity{AdminID: 1, Username: "amy", Role: "admin", OrgID: 7, OrgName: "Acme"}

type harness struct {
	cfgURL  string
	store   *handlers.Store
	out     *bytes.Buffer
	confirm bool
	asked   []string
	secrets []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := handlers.NewStore(admin)
	store.Seed()
	s := sandbox.NewServer(sandbox.Config{Mode: "release", Token: "tok"}, store, nil, zap.NewNop())
	s.Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &harness{cfgURL: srv.URL, store: store, out: &bytes.Buffer{}}
}

// execute runs one command line on a fresh command tree, like a shell would.
func (h *harness) execute(t *testing.T, args ...string) error {
	t.Helper()
	h.out.Reset()

	env := &Env{
		Out: h.out,
		Err: &bytes.Buffer{},
		Open: func(ctx context.Context) (*application.App, error) {
			cfg := &config.Config{
				API:      config.APIConfig{BaseURL: h.cfgURL, Prefix: "/api/messaging", Token: "tok", Timeout: 5 * time.Second},
				Realtime: config.RealtimeConfig{Path: "/ws", HandshakeTimeout: time.Second, EventBuffer: 16},
				Feed:     config.FeedConfig{PageSize: 50},
				Upload:   config.UploadConfig{MaxBytes: 1 << 20, AllowedTypes: []string{"image/png", "image/jpeg"}},
				Database: config.DatabaseConfig{Type: "memory"},
			}
			app, err := application.NewApp(cfg, zap.NewNop(), application.WithRunner(safego.Inline(zap.NewNop())))
			if err != nil {
				return nil, err
			}
			if err := app.Start(ctx); err != nil {
				app.Stop()
				return nil, err
			}
			return app, nil
		},
		Confirm: service.ConfirmFunc(func(prompt string) (bool, error) {
			h.asked = append(h.asked, prompt)
			return h.confirm, nil
		}),
		Secret: func(prompt string) (string, error) {
			if len(h.secrets) == 0 {
				t.Fatalf("unexpected secret prompt %q", prompt)
			}
			v := h.secrets[0]
			h.secrets = h.secrets[1:]
			return v, nil
		},
	}

	root := &cobra.Command{Use: "chatdesk", SilenceUsage: true, SilenceErrors: true}
	Register(root, env)
	root.SetArgs(args)
	root.SetOut(h.out)
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func (h *harness) mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	if err := h.execute(t, args...); err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return h.out.String()
}

func TestTemplates_OutputFormats(t *testing.T) {
	h := newHarness(t)

	out := h.mustExecute(t, "templates", "list")
	if !strings.Contains(out, "Greeting") || !strings.Contains(out, "/ship") {
		t.Errorf("table output missing templates:\n%s", out)
	}

	var items []entity.Template
	if err := json.Unmarshal([]byte(h.mustExecute(t, "templates", "list", "-o", "json")), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d templates, want 2", len(items))
	}

	var generic []map[string]any
	if err := yaml.Unmarshal([]byte(h.mustExecute(t, "templates", "list", "--category", "orders", "-o", "yaml")), &generic); err != nil {
		t.Fatal(err)
	}
	if len(generic) != 1 || generic[0]["name"] != "Shipping" {
		t.Errorf("yaml = %v", generic)
	}

	if err := h.execute(t, "templates", "list", "-o", "xml"); err == nil {
		t.Error("unknown output format accepted")
	}
}

func TestTemplates_CreateAndDelete(t *testing.T) {
	h := newHarness(t)

	out := h.mustExecute(t, "templates", "create", "--name", "Thanks", "--content", "Thank you!", "--shortcut", "/ty", "-o", "json")
	var created map[string]int64
	if err := json.Unmarshal([]byte(out), &created); err != nil || created["id"] == 0 {
		t.Fatalf("create output %q: %v", out, err)
	}
	if n := len(h.store.Templates("")); n != 3 {
		t.Fatalf("templates = %d, want 3", n)
	}

	if err := h.execute(t, "templates", "create", "--content", "no name"); !apperrors.IsInvalidInput(err) && err != entity.ErrNameRequired {
		t.Errorf("create without name: %v", err)
	}

	id := strconv.FormatInt(created["id"], 10)
	h.confirm = false
	err := h.execute(t, "templates", "delete", id)
	if !apperrors.IsCancelled(err) {
		t.Fatalf("declined delete: %v", err)
	}
	if n := len(h.store.Templates("")); n != 3 {
		t.Errorf("declined delete removed a template, %d left", n)
	}
	if len(h.asked) != 1 || !strings.Contains(h.asked[0], "#"+id) {
		t.Errorf("prompts = %q", h.asked)
	}

	h.confirm = true
	h.mustExecute(t, "templates", "delete", id)
	if n := len(h.store.Templates("")); n != 2 {
		t.Errorf("templates after delete = %d, want 2", n)
	}

	h.asked = nil
	h.confirm = false
	h.mustExecute(t, "--yes", "templates", "delete", strconv.FormatInt(h.store.Templates("")[0].ID, 10))
	if len(h.asked) != 0 {
		t.Errorf("--yes still prompted: %q", h.asked)
	}
}

func TestConversations_ListAndActions(t *testing.T) {
	h := newHarness(t)

	var convs []entity.Conversation
	if err := json.Unmarshal([]byte(h.mustExecute(t, "conversations", "list", "-o", "json")), &convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 {
		t.Fatalf("conversations = %d, want 3", len(convs))
	}

	var mali entity.Conversation
	for _, c := range convs {
		if c.ContactName == "Mali" {
			mali = c
		}
	}
	id := strconv.FormatInt(mali.ID, 10)

	h.mustExecute(t, "conversations", "pin", id)
	if err := json.Unmarshal([]byte(h.mustExecute(t, "c", "list", "-o", "json")), &convs); err != nil {
		t.Fatal(err)
	}
	if convs[0].ID != mali.ID || !convs[0].IsPinned {
		t.Errorf("pinned conversation not first: %+v", convs[0])
	}

	out := h.mustExecute(t, "conversations", "tag", id, "vip")
	if !strings.Contains(out, "vip") {
		t.Errorf("tag output %q", out)
	}
	h.mustExecute(t, "conversations", "resolve", id)
	if c, _ := h.store.Conversation(mali.ID); c.Status != entity.StatusResolved {
		t.Errorf("status = %s", c.Status)
	}

	if err := h.execute(t, "conversations", "list", "--status", "closed"); !apperrors.IsInvalidInput(err) {
		t.Errorf("bad status: %v", err)
	}
	if err := h.execute(t, "conversations", "show", "abc"); !apperrors.IsInvalidInput(err) {
		t.Errorf("bad id: %v", err)
	}
}

func TestConversations_SendAndExport(t *testing.T) {
	h := newHarness(t)
	conv := h.store.Conversations(entity.ConversationFilter{})[0]
	id := strconv.FormatInt(conv.ID, 10)

	_, before, _ := h.store.Messages(conv.ID, 0, 0)
	h.mustExecute(t, "conversations", "send", id, "hello", "there")
	msgs, after, _ := h.store.Messages(conv.ID, 0, 0)
	if after != before+1 || msgs[len(msgs)-1].Content != "hello there" {
		t.Errorf("send: %d -> %d, last %q", before, after, msgs[len(msgs)-1].Content)
	}

	dir := t.TempDir()
	h.mustExecute(t, "conversations", "export", id, "--out", dir)
	files, err := os.ReadDir(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("export dir: %v %v", files, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "Date,Time,Sender Type,Sender,Message Type,Content") {
		t.Errorf("csv = %q", data)
	}

	out := h.mustExecute(t, "conversations", "export-all", "--out", "-")
	if !strings.Contains(out, "hello there") {
		t.Errorf("export-all to stdout missing the sent message")
	}
}

func TestConversations_MessagesLinkProviderMedia(t *testing.T) {
	h := newHarness(t)
	conv := h.store.Conversations(entity.ConversationFilter{Search: "Somchai"})[0]
	if _, ok := h.store.AppendMessage(entity.Message{
		ConversationID:    conv.ID,
		SenderType:        entity.SenderContact,
		MessageType:       entity.MessageImage,
		PlatformMessageID: "4711",
	}); !ok {
		t.Fatal("append failed")
	}

	out := h.mustExecute(t, "conversations", "messages", strconv.FormatInt(conv.ID, 10))
	want := fmt.Sprintf("/media/line/4711?channel_id=%d", conv.ChannelID)
	if !strings.Contains(out, want) {
		t.Errorf("messages missing %q:\n%s", want, out)
	}
}

func TestChannels_Credentials(t *testing.T) {
	h := newHarness(t)

	var fb entity.Channel
	for _, ch := range h.store.Channels() {
		if ch.ChannelType == "facebook" {
			fb = ch
		}
	}
	id := strconv.FormatInt(fb.ID, 10)

	h.secrets = []string{"fb-secret"}
	h.mustExecute(t, "channels", "credentials", id, "--set", "page_id=123", "--prompt", "app_secret")
	ch, _ := h.store.Channel(fb.ID)
	if !ch.HasCredentials {
		t.Error("credentials not stored")
	}

	out := h.mustExecute(t, "channels", "credentials", id)
	if strings.Contains(out, "fb-secret") {
		t.Errorf("secret echoed back:\n%s", out)
	}
	if !strings.Contains(out, "page_id") {
		t.Errorf("masked view missing page_id:\n%s", out)
	}

	if err := h.execute(t, "channels", "credentials", id, "--set", "novalue"); !apperrors.IsInvalidInput(err) {
		t.Errorf("malformed --set: %v", err)
	}
}

func TestChannels_CreateRequiresType(t *testing.T) {
	h := newHarness(t)
	if err := h.execute(t, "channels", "create", "--name", "X"); err != entity.ErrInvalidChannel {
		t.Errorf("err = %v", err)
	}
	h.mustExecute(t, "channels", "create", "--type", "instagram", "--name", "IG")
	if n := len(h.store.Channels()); n != 3 {
		t.Errorf("channels = %d, want 3", n)
	}
}

func TestAIProviders_SetKey(t *testing.T) {
	h := newHarness(t)
	p := h.store.AIProviders()[0]
	id := strconv.FormatInt(p.ID, 10)

	h.secrets = []string{"sk-new-9999"}
	out := h.mustExecute(t, "ai", "set-key", id)
	if strings.Contains(out, "sk-new-9999") {
		t.Errorf("key echoed back: %s", out)
	}
	if got := h.store.AIProviders()[0].MaskedAPIKey; !strings.HasSuffix(got, "9999") {
		t.Errorf("masked key = %q", got)
	}
}

func TestSettingsAndBackups(t *testing.T) {
	h := newHarness(t)

	h.mustExecute(t, "settings", "ai-reply", "on")
	if !h.store.Settings().AIAutoReplyEnabled {
		t.Error("ai auto-reply not enabled")
	}
	if err := h.execute(t, "settings", "ai-reply", "maybe"); !apperrors.IsInvalidInput(err) {
		t.Errorf("ai-reply maybe: %v", err)
	}
	if err := h.execute(t, "settings", "public-url", "example.com"); !apperrors.IsInvalidInput(err) {
		t.Errorf("public-url without scheme: %v", err)
	}

	if err := h.execute(t, "backups", "restore", "../etc/passwd"); !apperrors.IsInvalidInput(err) {
		t.Errorf("restore bad name: %v", err)
	}
	if len(h.asked) != 0 {
		t.Error("bad backup name reached the prompt")
	}

	h.mustExecute(t, "backups", "create")
	backups := h.store.Backups()
	if len(backups) != 1 {
		t.Fatalf("backups = %d", len(backups))
	}
	h.confirm = false
	if err := h.execute(t, "backups", "restore", backups[0].Filename); !apperrors.IsCancelled(err) {
		t.Errorf("declined restore: %v", err)
	}
}

func TestNotifications_ReadAll(t *testing.T) {
	h := newHarness(t)

	out := h.mustExecute(t, "notifications", "list", "--unread")
	if !strings.Contains(out, "New conversation") {
		t.Errorf("unread list:\n%s", out)
	}
	var res map[string]int
	if err := json.Unmarshal([]byte(h.mustExecute(t, "notifications", "read-all", "-o", "json")), &res); err != nil {
		t.Fatal(err)
	}
	if res["unread"] != 0 {
		t.Errorf("unread = %d", res["unread"])
	}
	if len(h.store.Notifications(true)) != 0 {
		t.Error("store still has unread notifications")
	}
}

func TestWhoami(t *testing.T) {
	h := newHarness(t)
	var id entity.Identity
	if err := json.Unmarshal([]byte(h.mustExecute(t, "whoami", "-o", "json")), &id); err != nil {
		t.Fatal(err)
	}
	if id != admin {
		t.Errorf("identity = %+v", id)
	}
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)

	var overview entity.AnalyticsOverview
	if err := json.Unmarshal([]byte(h.mustExecute(t, "analytics", "overview", "-o", "json")), &overview); err != nil {
		t.Fatal(err)
	}
	if want := h.store.Overview(); overview != want {
		t.Errorf("overview = %+v, want %+v", overview, want)
	}

	var behavior entity.CustomerBehavior
	if err := json.Unmarshal([]byte(h.mustExecute(t, "analytics", "behavior", "-o", "json")), &behavior); err != nil {
		t.Fatal(err)
	}
	want := h.store.Behavior()
	if behavior.PeakHour() != want.PeakHour() || len(behavior.TopContacts) != len(want.TopContacts) {
		t.Errorf("behavior peak=%d contacts=%d, want peak=%d contacts=%d",
			behavior.PeakHour(), len(behavior.TopContacts), want.PeakHour(), len(want.TopContacts))
	}
}

func TestBehaviorMarkdown(t *testing.T) {
	empty := behaviorMarkdown(&entity.CustomerBehavior{})
	if !strings.Contains(empty, "**Peak hour:** n/a") || strings.Contains(empty, "## By weekday") {
		t.Errorf("empty report:\n%s", empty)
	}

	md := behaviorMarkdown(&entity.CustomerBehavior{
		HourlyActivity:         map[string]int{"9": 4, "14": 7},
		ProductCategories:      map[string]int{"Shoes": 2, "Bags": 5, "Hats": 2},
		AvgResponseTimeSeconds: 150,
	})
	for _, want := range []string{"**Peak hour:** 14:00", "2.5 min", "- Bags: 5\n- Hats: 2\n- Shoes: 2"} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q:\n%s", want, md)
		}
	}
}

func TestSeconds(t *testing.T) {
	for in, want := range map[float64]string{0: "n/a", 42: "42s", 90: "1.5 min", 5400: "1.5 h"} {
		if got := seconds(in); got != want {
			t.Errorf("seconds(%v) = %q, want %q", in, got, want)
		}
	}
}
