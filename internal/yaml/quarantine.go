package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/callcenter/dialer/internal/logging"
)

// Quarantine moves filePath into <home>/quarantine and returns the new path.
func Quarantine(home, filePath string) (string, error) {
	quarantineDir := filepath.Join(home, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("backup is also unusable: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

func GenerateSkeleton(filePath, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

// RecoverCorruptedFile quarantines filePath, then restores it from .bak or,
// failing that, writes an empty skeleton of fileType.
func RecoverCorruptedFile(home, filePath, fileType string, log *logging.Logger) error {
	if log == nil {
		log = logging.Discard()
	}
	dst, err := Quarantine(home, filePath)
	if err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}
	log.Warn("quarantined corrupted file %s -> %s", filePath, dst)

	err = RestoreFromBackup(filePath, fileType)
	if err == nil {
		log.Info("restored %s from backup", filePath)
		return nil
	}
	log.Warn("backup restore failed for %s: %v", filePath, err)

	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("skeleton generation failed: %w", err)
	}
	log.Info("generated %s skeleton at %s", fileType, filePath)
	return nil
}

func skeletonFor(fileType string) any {
	switch fileType {
	case FileTypeStateEngine:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      FileTypeStateEngine,
			"phase":          "stopped",
			"stats": map[string]any{
				"total": 0, "completed": 0, "successful": 0, "failed": 0, "remaining": 0,
			},
			"current_index": -1,
			"call_state":    "idle",
			"updated_at":    "",
		}
	default:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
