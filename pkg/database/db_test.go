package database

import (
	"testing"

	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want gormlogger.LogLevel
	}{
		{"debug", gormlogger.Info},
		{"info", gormlogger.Warn},
		{"warn", gormlogger.Warn},
		{"error", gormlogger.Error},
		{"", gormlogger.Error},
	}
	for _, tt := range tests {
		if got := gormLogLevel(tt.in); got != tt.want {
			t.Errorf("gormLogLevel(%q) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("读取内嵌迁移目录失败: %v", err)
	}
	var up, down int
	for _, e := range entries {
		name := e.Name()
		switch {
		case len(name) > 7 && name[len(name)-7:] == ".up.sql":
			up++
		case len(name) > 9 && name[len(name)-9:] == ".down.sql":
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("up/down 迁移数量应一致且非零: up=%d down=%d", up, down)
	}
}
