package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Data struct {
		Dir string // engine root; instances/versions/libraries live here
	}
	Remote struct {
		APIBase     string // community service API
		Host        string // community host, scheme forced to https
		ManifestURL string // content manifest endpoint for this instance
		StatusURL   string // game server status probe
		ReleaseURL  string // launcher releases endpoint (update check)
	}
	Instance struct {
		Name        string
		Version     string
		LoaderType  string
		LoaderBuild string
	}
	Control struct {
		Password        string // optional control-API password
		JWTSecret       string
		TokenTTLMinutes int
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("LAUNCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "127.0.0.1:7780")
	v.SetDefault("database.path", "data/launcher.db")
	v.SetDefault("data.dir", "data/kingdoms")
	v.SetDefault("remote.apibase", "https://kingdoms-mc.fr/api")
	v.SetDefault("remote.host", "kingdoms-mc.fr")
	v.SetDefault("remote.manifesturl", "https://kingdoms-mc.fr/launcher/files/?instance=KingdomsV4")
	v.SetDefault("remote.statusurl", "https://api.mcsrvstat.us/3/mc.kingdoms-mc.fr")
	v.SetDefault("remote.releaseurl", "https://api.github.com/repos/kingdoms-mc/launcher/releases/latest")
	v.SetDefault("instance.name", "KingdomsV4")
	v.SetDefault("instance.version", "1.20.1")
	v.SetDefault("instance.loadertype", "forge")
	v.SetDefault("instance.loaderbuild", "1.20.1-47.4.10")
	v.SetDefault("control.password", "")
	v.SetDefault("control.jwtsecret", "")
	v.SetDefault("control.tokenttlminutes", 720)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
