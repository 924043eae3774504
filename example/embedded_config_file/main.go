package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/loykin/realm"
)

// Loads a realm.yml, starts its processes through the public facade, prints
// their status and route table, then stops everything.
func main() {
	cfgPath := "realm.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := realm.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}

	mgr := realm.New()
	mgr.SetLogger(realm.NewLogger(cfg))
	defer mgr.Close()
	if err := mgr.ApplyConfig(cfg); err != nil {
		panic(err)
	}
	for _, r := range realm.Failed(mgr.StartAll()) {
		fmt.Printf("failed to start %s: %v\n", r.Name, r.Err)
	}
	defer mgr.StopAll()

	time.Sleep(time.Second)
	b, _ := json.MarshalIndent(mgr.StatusAll(), "", "  ")
	fmt.Println(string(b))
	for _, e := range mgr.RouteTable().Sorted() {
		fmt.Printf("%-20s -> %s (127.0.0.1:%d)\n", e.Pattern, e.Process, e.Port)
	}
}
