package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/api"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/evm"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/chain/solana"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/domain"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/execution"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/loop"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/market"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/metrics"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/planner"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/receipts"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/skill"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/state"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/trading"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/internal/walletflow"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/config"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/logger"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/secretstore"
	"github.com/simulatedrealty/PSYOPS-Solana-Copilot/pkg/shutdown"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv 文件（不存在时忽略）")
	configPath := flag.String("config", os.Getenv("COPILOT_CONFIG"), "配置文件路径（支持 .yaml, .yml, .json）")
	listen := flag.String("listen", "", "HTTP 监听地址（覆盖 COPILOT_LISTEN）")
	flag.Parse()

	// .env 尽力加载，缺失时直接使用真实环境变量
	_ = godotenv.Load(*envFile)

	if err := config.LoadFile(*configPath); err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	lc := config.Log()
	if err := logger.Init(logger.Config{
		Level:      lc.Level,
		OutputFile: lc.File,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
		Compress:   lc.Compress,
	}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}
	if p := config.GetConfigPath(); p != "" {
		logrus.Infof("使用配置文件: %s", p)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	sm := shutdown.NewManager()

	srvCfg := config.Server()
	var secrets *secretstore.Store
	if strings.TrimSpace(srvCfg.SecretDB) != "" {
		key, err := secretstore.ParseKey(srvCfg.SecretKey)
		if err != nil {
			logrus.Fatalf("COPILOT_SECRET_KEY 无效: %v", err)
		}
		secrets, err = secretstore.Open(secretstore.OpenOptions{Path: srvCfg.SecretDB, EncryptionKey: key})
		if err != nil {
			logrus.Fatalf("打开 secret store 失败: %v", err)
		}
		exported, err := secrets.ExportEnv()
		if err != nil {
			logrus.Fatalf("导出 secret store 环境变量失败: %v", err)
		}
		logrus.Infof("🔐 secret store 已加载 %d 项", len(exported))
		// secret store 可能提供了新的进程配置
		srvCfg = config.Server()
	}
	if *listen != "" {
		srvCfg.Listen = *listen
	}

	store := state.New(srvCfg.PaperMode)
	router := market.NewRouter()
	engines := map[domain.Chain]execution.Engine{}

	// Solana：服务端钱包 + Jupiter 报价
	solCfg := config.Solana()
	var solStore solana.SecretStore
	if secrets != nil {
		solStore = secrets
	}
	solKey, err := solana.LoadOrCreateKey(solCfg.PrivateKey, solStore)
	if err != nil {
		logrus.Fatalf("加载 Solana keypair 失败: %v", err)
	}
	solClient := solana.NewClient(solana.NewRPC(solCfg.RPCURL), solKey,
		solana.DefaultFundingPolicy(solCfg.MinBalanceSOL, solCfg.AirdropSOL))
	jupiter := market.NewJupiter(solCfg, solClient)
	router.Register(domain.ChainSolana, jupiter)
	engines[domain.ChainSolana] = execution.NewSolanaEngine(solClient, jupiter, solCfg)
	logrus.Infof("Solana 钱包: %s rpc=%s", solClient.PublicKey(), solCfg.RPCURL)

	// Base：Uniswap V3；RPC 未配置时只注册一个返回配置错误的报价器
	wf := walletflow.Options{
		Solana:       solClient,
		SolanaConfig: config.Solana,
		Quotes:       router,
		Trading:      config.Trading,
	}
	baseCfg := config.Base()
	var evmClient *evm.Client
	if strings.TrimSpace(baseCfg.RPCURL) != "" {
		backend, err := evm.Dial(rootCtx, baseCfg.RPCURL)
		if err != nil {
			logrus.Fatalf("连接 Base RPC 失败: %v", err)
		}
		key, err := evm.LoadKey(baseCfg.PrivateKey, baseCfg.Mnemonic, baseCfg.DerivationPath)
		if err != nil {
			logrus.Warnf("Base 未配置签名私钥，仅可报价与钱包签名: %v", err)
			key = nil
		}
		evmClient = evm.NewClient(backend, baseCfg.ChainID, key)
		router.Register(domain.ChainBase, market.NewUniswap(evmClient, baseCfg.Quoter, baseCfg.PoolFee))
		baseEngine := execution.NewBaseEngine(evmClient, config.Base)
		engines[domain.ChainBase] = baseEngine
		wf.BasePlanner = baseEngine
		wf.BaseChain = evmClient
		logrus.Infof("Base 钱包: %s chainId=%d", evmClient.Address().Hex(), baseCfg.ChainID)
		sm.OnShutdown(func(ctx context.Context) {
			evmClient.Close()
			backend.Close()
		})
	} else {
		router.Register(domain.ChainBase, market.Unavailable{Err: baseCfg.Validate()})
		logrus.Warnf("Base 未启用: %v", baseCfg.Validate())
	}

	var plan planner.Planner = planner.NewLLM(config.LLM())
	if !config.LLM().Enabled() {
		plan = planner.Static{Decision: domain.Decision{
			Action:  domain.SideHold,
			Reasons: []string{"LLM API key not configured"},
		}}
		logrus.Warn("未配置 LLM_API_KEY，规划器固定返回 HOLD")
	}

	rs, err := receipts.Open(srvCfg.ReceiptsBackend, srvCfg.ReceiptsPath, srvCfg.SQLitePath)
	if err != nil {
		logrus.Fatalf("打开收据存储失败: %v", err)
	}

	handler := trading.NewHandler(trading.Options{
		Store:    store,
		Receipts: rs,
		Engines:  engines,
	})
	wf.Recorder = handler
	wf.Receipts = rs
	scheduler := loop.New(loop.Options{
		Store:   store,
		Market:  router,
		Planner: plan,
		Trader:  handler,
	})
	skills := skill.New(skill.Options{
		Store:    store,
		Market:   router,
		Planner:  plan,
		Trader:   handler,
		Receipts: rs,
	})
	srv := api.New(rootCtx, api.Config{
		Store:    store,
		Loop:     scheduler,
		Trader:   handler,
		Receipts: rs,
		Wallet:   walletflow.New(wf),
		Skills:   skills,
	})

	if srvCfg.MetricsListen != "" {
		if _, err := metrics.StartAsync(rootCtx, srvCfg.MetricsListen); err != nil {
			logrus.Warnf("启动 metrics 服务失败: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              srvCfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logrus.Infof("🌐 copilot 已启动: %s (paper=%v)", srvCfg.Listen, srvCfg.PaperMode)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("HTTP 服务异常退出: %v", err)
			rootCancel()
		}
	}()

	if srvCfg.StartLoop {
		scheduler.Start(rootCtx)
	}

	sm.OnShutdown(func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
	})
	sm.OnShutdown(func(ctx context.Context) {
		scheduler.Stop()
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-stopCh:
		logrus.Info("⏹️ 收到停止信号，正在关闭...")
	case <-rootCtx.Done():
	}
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sm.Shutdown(shutdownCtx)

	// 收据与钱包资源在所有请求结束后关闭
	if err := rs.Close(); err != nil {
		logrus.Warnf("关闭收据存储失败: %v", err)
	}
	solClient.Close()
	if secrets != nil {
		_ = secrets.Close()
	}
	logrus.Info("copilot 已停止")
}
