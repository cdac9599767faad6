// src/handlers/config_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/utils"
)

type ConfigHandler struct{}

func NewConfigHandler() *ConfigHandler {
	return &ConfigHandler{}
}

type saveConfigRequest struct {
	PortalBaseURL  string `json:"portalBaseURL"`
	PortalUser     string `json:"portalUser"`
	PortalPassword string `json:"portalPassword"`
	MailUser       string `json:"mailUser"`
	MailPassword   string `json:"mailPassword"`
	KnownSender    string `json:"knownSender"`
}

// HandleSetupStatus tells the dashboard whether credentials are in place.
func (h *ConfigHandler) HandleSetupStatus(w http.ResponseWriter, r *http.Request) {
	utils.SendJSON(w, map[string]bool{
		"portalConfigured": config.Cfg.HasPortalCredentials(),
		"mailConfigured":   config.Cfg.HasMailCredentials(),
	}, http.StatusOK)
}

// HandleSaveConfig persists credentials to the .env file and applies them to
// the running process. Existing unrelated keys in the file are preserved.
func (h *ConfigHandler) HandleSaveConfig(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req saveConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	updates := map[string]string{}
	if req.PortalBaseURL != "" {
		updates["PORTAL_BASE_URL"] = strings.TrimRight(req.PortalBaseURL, "/")
	}
	if req.PortalUser != "" {
		updates["PORTAL_USER"] = req.PortalUser
	}
	if req.PortalPassword != "" {
		updates["PORTAL_PASSWORD"] = req.PortalPassword
	}
	if req.MailUser != "" {
		updates["MAIL_USER"] = req.MailUser
	}
	if req.MailPassword != "" {
		updates["MAIL_PASSWORD"] = req.MailPassword
	}
	if req.KnownSender != "" {
		updates["MAIL_KNOWN_SENDER"] = req.KnownSender
	}
	if len(updates) == 0 {
		utils.SendJSONError(w, "nothing to save", http.StatusBadRequest)
		return
	}

	if err := writeEnvFile(config.Cfg.EnvFilePath, updates); err != nil {
		log.Error("Failed to write .env file", "path", config.Cfg.EnvFilePath, "error", err)
		utils.SendJSONError(w, "failed to persist configuration", http.StatusInternalServerError)
		return
	}

	applyUpdates(updates)
	log.Info("Configuration saved", "keys", len(updates))
	utils.SendJSON(w, map[string]string{"status": "saved"}, http.StatusOK)
}

func applyUpdates(updates map[string]string) {
	for k, v := range updates {
		os.Setenv(k, v)
		switch k {
		case "PORTAL_BASE_URL":
			config.Cfg.PortalBaseURL = v
			config.Cfg.LoginURL = v + "/app_Login"
			config.Cfg.TransferFormURL = v + "/form_transferencias/"
			config.Cfg.MovementsGridURL = v + "/grid_movimientos_cuenta_usuario/"
		case "PORTAL_USER":
			config.Cfg.PortalUser = v
		case "PORTAL_PASSWORD":
			config.Cfg.PortalPassword = v
		case "MAIL_USER":
			config.Cfg.MailUser = v
		case "MAIL_PASSWORD":
			config.Cfg.MailPassword = v
		case "MAIL_KNOWN_SENDER":
			config.Cfg.KnownSender = v
		}
	}
}

// writeEnvFile rewrites path with updates applied, keeping every line it
// does not recognize. The file holds credentials, hence 0600.
func writeEnvFile(path string, updates map[string]string) error {
	var lines []string
	if raw, err := os.ReadFile(path); err == nil {
		lines = strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	} else if !os.IsNotExist(err) {
		return err
	}

	seen := map[string]bool{}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if v, present := updates[key]; present {
			lines[i] = fmt.Sprintf("%s=%s", key, v)
			seen[key] = true
		}
	}
	for key, v := range updates {
		if !seen[key] {
			lines = append(lines, fmt.Sprintf("%s=%s", key, v))
		}
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}
