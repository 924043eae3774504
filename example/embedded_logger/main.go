package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/realm"
	"github.com/loykin/realm/internal/logger"
)

// embedded_logger: the first process writes to rotating files under a log
// directory; the second has no log destination, so its lines go to realm's
// own structured logger.
func main() {
	logDir := os.Getenv("REALM_LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), fmt.Sprintf("realm-logs-%d", time.Now().UnixNano()))
	}
	_ = os.MkdirAll(logDir, 0o750)

	mgr := realm.New()
	mgr.SetLogger(logger.New(logger.Config{Level: "info", Color: true}, os.Stderr))
	defer mgr.Close()

	specs := []realm.Spec{
		{Name: "to-files", Command: "ls -la", Log: logger.ProcessLog{Dir: logDir}},
		{Name: "to-logger", Command: "uname -a"},
	}
	if err := mgr.LoadProcesses(specs); err != nil {
		panic(err)
	}
	mgr.StartAll()
	time.Sleep(500 * time.Millisecond)
	mgr.StopAll()

	fmt.Println("Embedded logger example")
	fmt.Println("  Log directory:", logDir)
	fmt.Println("  Stdout log:", filepath.Join(logDir, "to-files.stdout.log"))
	fmt.Println("  Stderr log:", filepath.Join(logDir, "to-files.stderr.log"))
	fmt.Println("Tip: set REALM_LOG_DIR to choose a custom log directory.")
}
