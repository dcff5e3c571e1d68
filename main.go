package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhukovaskychina/xmysql-ibuf/logger"
	"github.com/zhukovaskychina/xmysql-ibuf/server/conf"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/ibuf"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store"
)

var configPath = flag.String("configPath", "", "配置文件路径，my.ini")

func main() {
	flag.Parse()

	cfg := conf.NewCfg()
	if *configPath != "" {
		if err := cfg.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	redo, err := manager.NewRedoLogManager(cfg.RedoLogPath(), cfg.InnodbRedoLogBufferSize)
	if err != nil {
		logger.Fatalf("init redo log: %v", err)
	}

	spaces := store.NewSpaceManager(cfg.DataDir, uint32(cfg.InnodbPageSize))
	pool := buffer_pool.NewBufferPool(cfg.InnodbBufferPoolPages, spaces)

	env := &basic.DefaultEnv{ReadOnly: cfg.InnodbReadOnly}
	cb, err := ibuf.Init(cfg, pool, spaces, redo, env)
	if err != nil {
		logger.Fatalf("init change buffer: %v", err)
	}
	cb.StartContractor(10 * time.Second)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := cb.Close(); err != nil {
		logger.Errorf("close change buffer: %v", err)
	}
	if err := pool.Close(); err != nil {
		logger.Errorf("close buffer pool: %v", err)
	}
	if err := redo.Close(); err != nil {
		logger.Errorf("close redo log: %v", err)
	}
	if err := spaces.Close(); err != nil {
		logger.Errorf("close spaces: %v", err)
	}
}
