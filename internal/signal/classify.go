// Package signal flags call targets and string constants that say something
// about what a program does: spawning processes, evaluating code, touching
// the network or the filesystem, handling secrets.
package signal

import (
	"math"
	"regexp"
	"slices"
	"strings"
)

// Categories.
const (
	CatExec        = "exec"        // process spawning, shell
	CatDynamic     = "dynamic"     // eval/exec/compile, dynamic imports
	CatDeserialize = "deserialize" // pickle, marshal, unsafe yaml
	CatFS          = "fs"          // file deletion, permissions, temp files
	CatNet         = "net"         // sockets, HTTP clients
	CatEncryption  = "encryption"
	CatEnv         = "env" // environment variables
	CatNative      = "native"
	CatURL         = "url"
	CatHost        = "host"
	CatAuth        = "auth"
	CatFileExt     = "file"
	CatBase64Key   = "base64"
)

// calleePrefixes maps dotted call-name prefixes to categories. A prefix
// ending in "." matches the module and everything below it; other entries
// match the exact name or the last segment after a receiver.
var calleePrefixes = []struct {
	prefix string
	cat    string
}{
	{"subprocess.", CatExec},
	{"os.system", CatExec},
	{"os.popen", CatExec},
	{"os.spawn", CatExec},
	{"os.exec", CatExec},
	{"pty.spawn", CatExec},
	{"eval", CatDynamic},
	{"exec", CatDynamic},
	{"compile", CatDynamic},
	{"__import__", CatDynamic},
	{"importlib.import_module", CatDynamic},
	{"pickle.load", CatDeserialize},
	{"cPickle.load", CatDeserialize},
	{"marshal.load", CatDeserialize},
	{"shelve.open", CatDeserialize},
	{"yaml.load", CatDeserialize},
	{"yaml.unsafe_load", CatDeserialize},
	{"os.remove", CatFS},
	{"os.unlink", CatFS},
	{"os.chmod", CatFS},
	{"os.chown", CatFS},
	{"shutil.rmtree", CatFS},
	{"shutil.move", CatFS},
	{"tempfile.", CatFS},
	{"socket.", CatNet},
	{"requests.", CatNet},
	{"urllib.", CatNet},
	{"urllib2.", CatNet},
	{"http.client.", CatNet},
	{"httpx.", CatNet},
	{"aiohttp.", CatNet},
	{"ftplib.", CatNet},
	{"smtplib.", CatNet},
	{"paramiko.", CatNet},
	{"hashlib.", CatEncryption},
	{"hmac.", CatEncryption},
	{"secrets.", CatEncryption},
	{"Crypto.", CatEncryption},
	{"cryptography.", CatEncryption},
	{"ssl.", CatEncryption},
	{"os.getenv", CatEnv},
	{"os.environ", CatEnv},
	{"os.putenv", CatEnv},
	{"ctypes.", CatNative},
	{"cffi.", CatNative},
}

var (
	reURL       = regexp.MustCompile(`(?i)(https?|wss?|ftp)://`)
	reIPLiteral = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reBase64    = regexp.MustCompile(`^[A-Za-z0-9+/=]{16,}$`)

	cryptoKeywords = []string{
		"encrypt", "decrypt", "cipher", "ciphertext",
		"pbkdf", "argon2", "bcrypt", "scrypt",
		"signature", "digest", "hmacsha", "chacha", "nonce",
	}
	// Short words need boundaries ("rsa" in "traversal").
	reCryptoShort = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(aes|rsa|ecdsa|hmac|sha1|sha256|sha512|md5|cbc|ecb|gcm|pkcs|xor|rc4|salt)([^a-zA-Z]|$)`)

	reAuth           = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(oauth|jwt|bearer|credential|passwd|apikey|api_key|api-key|authorization|authenticate)([^a-zA-Z]|$)`)
	reAuthStandalone = regexp.MustCompile(`(?i)(^|[^a-z])(password|token|secret|login)([^a-z]|$)`)

	netKeywords = []string{"socket", "connect", "dns", "proxy"}
	httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

	signalExtensions = []string{
		".so", ".dll", ".pyd", ".exe",
		".zip", ".tar", ".gz",
		".pem", ".key", ".crt", ".p12",
		".db", ".sqlite", ".pkl", ".pickle",
		".sh", ".bat", ".ps1",
	}
)

// ClassifyCallee returns the categories of a dotted call name such as
// "subprocess.run" or "builtins.eval". Matching is by module prefix, so a
// method reached through an instance ("self.session.get") carries none.
func ClassifyCallee(dotted string) []string {
	if dotted == "" || strings.HasPrefix(dotted, "<") {
		return nil
	}
	if strings.HasPrefix(dotted, "builtins.") {
		dotted = strings.TrimPrefix(dotted, "builtins.")
	}
	var cats []string
	for _, p := range calleePrefixes {
		if matchPrefix(dotted, p.prefix) && !slices.Contains(cats, p.cat) {
			cats = append(cats, p.cat)
		}
	}
	return cats
}

func matchPrefix(name, prefix string) bool {
	if strings.HasSuffix(prefix, ".") {
		return strings.HasPrefix(name, prefix) || name == strings.TrimSuffix(prefix, ".")
	}
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	// os.spawn matches os.spawnv, eval does not match evaluate_model.
	rest := name[len(prefix):]
	if rest == "" || rest[0] == '.' {
		return true
	}
	return strings.Contains(prefix, ".") && isLowerAlpha(rest)
}

func isLowerAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// ClassifyString returns the categories of a string constant, or nil.
func ClassifyString(value string) []string {
	if len(value) < 2 {
		return nil
	}

	var cats []string
	lower := strings.ToLower(value)

	if reURL.MatchString(value) {
		cats = append(cats, CatURL)
	}
	if reIPLiteral.MatchString(value) {
		cats = append(cats, CatHost)
	}
	if containsKeyword(value, cryptoKeywords) || reCryptoShort.MatchString(value) {
		cats = append(cats, CatEncryption)
	}
	if reAuth.MatchString(value) || reAuthStandalone.MatchString(value) {
		cats = append(cats, CatAuth)
	}

	if slices.Contains(httpMethods, value) {
		cats = append(cats, CatNet)
	} else {
		for _, w := range netKeywords {
			if strings.Contains(lower, w) {
				cats = append(cats, CatNet)
				break
			}
		}
	}

	for _, ext := range signalExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+" ") {
			cats = append(cats, CatFileExt)
			break
		}
	}

	// High-entropy standalone token; identifiers in camelCase are not keys.
	trimmed := strings.TrimSpace(value)
	if reBase64.MatchString(trimmed) && entropy(value) > 3.5 && !isCamelCase(trimmed) {
		cats = append(cats, CatBase64Key)
	}
	return cats
}

// Severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// CategorySeverity returns the severity of a category.
func CategorySeverity(cat string) string {
	switch cat {
	case CatExec, CatDynamic, CatDeserialize, CatNative, CatAuth:
		return SeverityHigh
	case CatNet, CatEncryption, CatURL, CatHost, CatBase64Key, CatEnv:
		return SeverityMedium
	}
	return SeverityLow
}

// MaxSeverity returns the highest severity among categories.
func MaxSeverity(categories []string) string {
	best := SeverityLow
	for _, c := range categories {
		switch CategorySeverity(c) {
		case SeverityHigh:
			return SeverityHigh
		case SeverityMedium:
			best = SeverityMedium
		}
	}
	return best
}

// isCamelCase reports a lowercase-to-uppercase transition ("checkToken").
func isCamelCase(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= 'a' && s[i-1] <= 'z' && s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// normalizeForMatch lowercases and strips _ - space and dot, so that
// "encryptData", "encrypt_data" and "encrypt data" all match "encrypt".
func normalizeForMatch(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c != '_' && c != '-' && c != ' ' && c != '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func containsKeyword(value string, keywords []string) bool {
	norm := normalizeForMatch(value)
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// entropy is the Shannon entropy of s in bits per byte.
func entropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var ent float64
	for _, count := range freq {
		p := float64(count) / n
		ent -= p * math.Log2(p)
	}
	return ent
}
