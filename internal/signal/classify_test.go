package signal

import (
	"errors"
	"slices"
	"testing"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"
)

func TestClassifyCallee(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"subprocess.run", CatExec},
		{"subprocess", CatExec},
		{"os.system", CatExec},
		{"os.spawnv", CatExec},
		{"eval", CatDynamic},
		{"builtins.exec", CatDynamic},
		{"__import__", CatDynamic},
		{"pickle.loads", CatDeserialize},
		{"shutil.rmtree", CatFS},
		{"requests.get", CatNet},
		{"hashlib.sha256", CatEncryption},
		{"os.environ.get", CatEnv},
		{"ctypes.CDLL", CatNative},
	}
	for _, tt := range tests {
		cats := ClassifyCallee(tt.name)
		if !slices.Contains(cats, tt.want) {
			t.Errorf("ClassifyCallee(%q) = %v, want %s", tt.name, cats, tt.want)
		}
	}
}

func TestClassifyCalleeFalsePositives(t *testing.T) {
	for _, s := range []string{
		"evaluate_model", "executor.submit", "re.compile", "self.session.get",
		"os.path.join", "print", "<unknown>", "",
	} {
		if cats := ClassifyCallee(s); len(cats) != 0 {
			t.Errorf("should NOT classify %q, got %v", s, cats)
		}
	}
}

func TestClassifyURL(t *testing.T) {
	cats := ClassifyString("https://api.example.com/oauth/token")
	if !slices.Contains(cats, CatURL) {
		t.Errorf("expected url category, got %v", cats)
	}
	if !slices.Contains(cats, CatAuth) {
		t.Errorf("expected auth category for oauth, got %v", cats)
	}
}

func TestClassifyCrypto(t *testing.T) {
	for _, s := range []string{
		"AES/CBC/PKCS7PADDING", "sha256", "HMAC-SHA1", "encrypt",
		"xor cipher", "encrypt_and_store", "Ciphertext:", "SALT",
		"RSA", "rsa_public_key",
	} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatEncryption) {
			t.Errorf("expected encryption category for %q, got %v", s, cats)
		}
	}
}

func TestClassifyCryptoFalsePositives(t *testing.T) {
	for _, s := range []string{"skip_traversal", "TraversalPolicy", "universal", "aesthetic"} {
		if cats := ClassifyString(s); slices.Contains(cats, CatEncryption) {
			t.Errorf("should NOT be encryption: %q, got %v", s, cats)
		}
	}
}

func TestClassifyAuth(t *testing.T) {
	for _, s := range []string{"password", "Bearer token", "jwt", "api_key", "Authorization"} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatAuth) {
			t.Errorf("expected auth category for %q, got %v", s, cats)
		}
	}
	if cats := ClassifyString("showPassword"); slices.Contains(cats, CatAuth) {
		t.Errorf("should NOT be auth: showPassword, got %v", cats)
	}
}

func TestClassifyNetHostFile(t *testing.T) {
	if cats := ClassifyString("POST"); !slices.Contains(cats, CatNet) {
		t.Errorf("expected net for POST, got %v", cats)
	}
	if cats := ClassifyString("proxy settings"); !slices.Contains(cats, CatNet) {
		t.Errorf("expected net for proxy, got %v", cats)
	}
	if cats := ClassifyString("10.0.0.1:8080"); !slices.Contains(cats, CatHost) {
		t.Errorf("expected host for IP literal, got %v", cats)
	}
	for _, s := range []string{"model.pkl", "server.pem", "_native.so"} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatFileExt) {
			t.Errorf("expected file for %q, got %v", s, cats)
		}
	}
}

func TestClassifyBase64Key(t *testing.T) {
	cats := ClassifyString("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/==")
	if !slices.Contains(cats, CatBase64Key) {
		t.Errorf("expected base64, got %v", cats)
	}
}

func TestClassifyMundane(t *testing.T) {
	for _, s := range []string{"Index out of range", "hello", "x", "None"} {
		if cats := ClassifyString(s); len(cats) != 0 {
			t.Errorf("expected no categories for %q, got %v", s, cats)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity([]string{CatFileExt, CatURL}); got != SeverityMedium {
		t.Errorf("MaxSeverity = %s, want medium", got)
	}
	if got := MaxSeverity([]string{CatURL, CatExec}); got != SeverityHigh {
		t.Errorf("MaxSeverity = %s, want high", got)
	}
	if got := MaxSeverity(nil); got != SeverityLow {
		t.Errorf("MaxSeverity(nil) = %s, want low", got)
	}
}

func site(offset int, segs ...string) disasm.CallSite {
	return disasm.CallSite{Offset: offset, Opname: "CALL", Name: disasm.CallableName{Segments: segs}}
}

func signalFixture() ([]callgraph.FuncInfo, *callgraph.Graph) {
	funcs := []callgraph.FuncInfo{
		{Name: "app.util"},
		{Name: "app.helper", Sites: []disasm.CallSite{site(2, "util")}},
		{
			Name: "app.main",
			Insts: []disasm.Inst{
				{Offset: 0, Opname: "LOAD_CONST", Argval: "https://example.com/upload"},
				{Offset: 8, Opname: "LOAD_CONST", Argval: "hello"},
			},
			Sites: []disasm.CallSite{
				site(6, "subprocess", "run"),
				site(10, "helper"),
				{Offset: 12, Opname: "CALL", Err: errors.New("opaque producer")},
			},
		},
	}
	g := callgraph.NewGraph()
	g.AddEdge("app.main", "app.helper", 1)
	g.AddEdge("app.helper", "app.util", 1)
	return funcs, g
}

func TestScan(t *testing.T) {
	funcs, _ := signalFixture()
	findings := Scan(funcs)
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2: %+v", len(findings), findings)
	}
	if f := findings[0]; f.Kind != "string" || f.Offset != 0 || !slices.Contains(f.Categories, CatURL) {
		t.Errorf("findings[0] = %+v", f)
	}
	if f := findings[1]; f.Kind != "call" || f.Value != "subprocess.run" || f.Func != "app.main" {
		t.Errorf("findings[1] = %+v", f)
	}

	counts := Summarize(findings)
	if counts[CatExec] != 1 || counts[CatURL] != 1 {
		t.Errorf("Summarize = %v", counts)
	}
}

func TestBuildSignalGraph(t *testing.T) {
	funcs, g := signalFixture()
	sg := BuildSignalGraph(funcs, g, 1, map[string]bool{"app.main": true})

	var order, roles []string
	for _, f := range sg.Funcs {
		order = append(order, f.Name)
		roles = append(roles, f.Role)
	}
	if !slices.Equal(order, []string{"app.main", "app.helper", "app.util"}) {
		t.Errorf("order = %v", order)
	}
	if !slices.Equal(roles, []string{"signal", "context", ""}) {
		t.Errorf("roles = %v", roles)
	}
	if sg.Funcs[0].Severity != SeverityHigh || !sg.Funcs[0].IsEntryPoint {
		t.Errorf("main = %+v", sg.Funcs[0])
	}
	if sg.Stats.SignalFuncs != 1 || sg.Stats.ContextFuncs != 1 || sg.Stats.TotalEdges != 2 {
		t.Errorf("stats = %+v", sg.Stats)
	}

	// Two hops reach util as well.
	sg = BuildSignalGraph(funcs, g, 2, nil)
	if sg.Stats.ContextFuncs != 2 {
		t.Errorf("k=2 context funcs = %d, want 2", sg.Stats.ContextFuncs)
	}
}
