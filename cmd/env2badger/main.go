package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/goexec/pkg/config"
	"github.com/betbot/goexec/pkg/secretstore"
)

// env2badger 把 .env 中的交易所凭证（<PREFIX>_API_KEY / _SECRET_KEY / _PASSPHRASE）
// 按交易所写入加密的 badger 凭证库，之后 .env 就可以删掉了。
func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("SECRET_STORE_PATH", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("GOEXEC_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		venues    = flag.String("venues", "", "venue names, comma separated (default: every prefix found in the file)")
		dryRun    = flag.Bool("dry-run", false, "print what would be written without touching the store")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil && !*dryRun {
		fatal(fmt.Errorf("secret key is required: set GOEXEC_SECRET_KEY or pass -secret-key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}

	names := splitList(*venues)
	if len(names) == 0 {
		names = discoverVenues(kv)
	}
	if len(names) == 0 {
		fatal(fmt.Errorf("no *_API_KEY entries found in %s", *inPath))
	}

	found := map[string]config.Credentials{}
	for _, name := range names {
		c := credentialsFor(kv, name)
		if c.Empty() {
			fmt.Fprintf(os.Stderr, "跳过 %s：.env 中没有凭证\n", name)
			continue
		}
		found[name] = c
	}

	if *dryRun {
		for _, name := range sortedKeys(found) {
			c := found[name]
			fmt.Printf("%s → %s (api_key=%s, passphrase=%t)\n",
				name, secretstore.CredentialsKey(name), mask(c.APIKey), c.Passphrase != "")
		}
		return
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath, EncryptionKey: keyBytes})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	for _, name := range sortedKeys(found) {
		if err := ss.SetJSON(secretstore.CredentialsKey(name), found[name]); err != nil {
			fatal(err)
		}
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 个交易所凭证到 badger：%s\n", len(found), *dbPath)
}

// credentialsFor 环境变量命名与 config.VenueConfig.EnvPrefix 一致
func credentialsFor(kv map[string]string, venue string) config.Credentials {
	p := config.VenueConfig{Name: venue}.EnvPrefix()
	return config.Credentials{
		APIKey:     strings.TrimSpace(kv[p+"_API_KEY"]),
		SecretKey:  strings.TrimSpace(kv[p+"_SECRET_KEY"]),
		Passphrase: strings.TrimSpace(kv[p+"_PASSPHRASE"]),
	}
}

// discoverVenues OKX_MAIN_API_KEY → okx-main
func discoverVenues(kv map[string]string) []string {
	var out []string
	for k := range kv {
		if prefix, ok := strings.CutSuffix(k, "_API_KEY"); ok && prefix != "" {
			out = append(out, strings.ToLower(strings.ReplaceAll(prefix, "_", "-")))
		}
	}
	sort.Strings(out)
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]config.Credentials) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
