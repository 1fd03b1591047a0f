/*
Copyright 2024 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	kruntime "k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	apiv1 "github.com/evrone/kcl-controller/api/v1alpha1"
	"github.com/evrone/kcl-controller/internal/apply"
	"github.com/evrone/kcl-controller/internal/arguments"
	"github.com/evrone/kcl-controller/internal/controller"
	"github.com/evrone/kcl-controller/internal/fetcher"
	"github.com/evrone/kcl-controller/internal/flags"
	"github.com/evrone/kcl-controller/internal/logger"
	"github.com/evrone/kcl-controller/internal/metrics"
	"github.com/evrone/kcl-controller/internal/render"
	"github.com/evrone/kcl-controller/internal/runtime"
	"github.com/evrone/kcl-controller/internal/source"
)

const controllerName = "kcl-controller"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the KclInstance controller.",
	Example: `  # Run in-cluster with the defaults
  kcl-controller run

  # Run locally against a port-forwarded source-controller
  kcl-controller run --kube-context=kind-dev --source-host=localhost:9090 --watch-namespace=apps`,
	RunE: runRunCmd,
}

type runFlags struct {
	concurrent     int
	metricsAddr    string
	healthAddr     string
	leaderElection bool
	watchNamespace string
	watchSources   bool
	storageDir     string
	sourceHost     string
	httpRetry      int
	kclBinary      string
	kclExtraArgs   string
	minRetryDelay  time.Duration
	maxRetryDelay  time.Duration
	maxTimeout     time.Duration
	kubeVersion    flags.KubeVersion
}

var runArgs runFlags

func init() {
	runCmd.Flags().IntVar(&runArgs.concurrent, "concurrent", 4,
		"The number of concurrent KclInstance reconciles.")
	runCmd.Flags().StringVar(&runArgs.metricsAddr, "metrics-addr", ":8080",
		"The address the metric endpoint binds to.")
	runCmd.Flags().StringVar(&runArgs.healthAddr, "health-addr", ":9440",
		"The address the health endpoint binds to.")
	runCmd.Flags().BoolVar(&runArgs.leaderElection, "enable-leader-election", false,
		"Enable leader election for controller manager.")
	runCmd.Flags().StringVar(&runArgs.watchNamespace, "watch-namespace", "",
		"Watch for KclInstances only in this namespace, all namespaces when empty.")
	runCmd.Flags().BoolVar(&runArgs.watchSources, "watch-sources", true,
		"Watch the Flux GitRepository and OCIRepository kinds for new revisions.")
	runCmd.Flags().StringVar(&runArgs.storageDir, "storage-dir", envOr("KCL_STORAGE_DIR", filepath.Join(os.TempDir(), "kcl-controller")),
		"The dir where the source artifacts are cached, can be set with the KCL_STORAGE_DIR env var.")
	runCmd.Flags().StringVar(&runArgs.sourceHost, "source-host", os.Getenv("SOURCE_HOST"),
		"Override the host of the artifact URLs, can be set with the SOURCE_HOST env var.")
	runCmd.Flags().IntVar(&runArgs.httpRetry, "http-retry", envIntOr("KCL_HTTP_RETRY", 9),
		"The number of retries for artifact downloads, can be set with the KCL_HTTP_RETRY env var.")
	runCmd.Flags().StringVar(&runArgs.kclBinary, "kcl-binary", "kcl",
		"The name or path of the KCL CLI.")
	runCmd.Flags().StringVar(&runArgs.kclExtraArgs, "kcl-extra-args", "",
		"Extra arguments appended to 'kcl run', e.g. '--strict_range_check'.")
	runCmd.Flags().DurationVar(&runArgs.minRetryDelay, "min-retry-delay", 750*time.Millisecond,
		"The minimum delay between retries of transient failures.")
	runCmd.Flags().DurationVar(&runArgs.maxRetryDelay, "max-retry-delay", 15*time.Minute,
		"The maximum delay between retries of transient failures.")
	runCmd.Flags().DurationVar(&runArgs.maxTimeout, "default-timeout", 10*time.Minute,
		"The upper bound of a KclInstance reconciliation timeout.")
	runCmd.Flags().Var(&runArgs.kubeVersion, "kube-version", runArgs.kubeVersion.Description())

	rootCmd.AddCommand(runCmd)
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	log := LoggerFrom(cmd.Context())

	if runArgs.minRetryDelay > runArgs.maxRetryDelay {
		return fmt.Errorf("--min-retry-delay %s is greater than --max-retry-delay %s", runArgs.minRetryDelay, runArgs.maxRetryDelay)
	}

	cfg, err := kubeconfigArgs.ToRESTConfig()
	if err != nil {
		return fmt.Errorf("loading kubeconfig failed: %w", err)
	}
	cfg.UserAgent = fmt.Sprintf("%s/%s", controllerName, VERSION)

	serverVersion, err := runtime.ServerVersion(cfg)
	if err != nil {
		return err
	}
	if err := runArgs.kubeVersion.Check(serverVersion); err != nil {
		return err
	}
	log.Info("connected to Kubernetes", "version", serverVersion)

	renderer, err := render.NewKCL(runArgs.kclBinary, runArgs.kclExtraArgs)
	if err != nil {
		return fmt.Errorf("invalid --kcl-extra-args: %w", err)
	}

	if err := os.MkdirAll(runArgs.storageDir, 0o755); err != nil {
		return fmt.Errorf("storage dir is not writable: %w", err)
	}

	scheme := kruntime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(apiv1.AddToScheme(scheme))

	cacheOpts := cache.Options{}
	if runArgs.watchNamespace != "" {
		cacheOpts.DefaultNamespaces = map[string]cache.Config{runArgs.watchNamespace: {}}
	}

	mgr, err := ctrl.NewManager(cfg, ctrl.Options{
		Scheme:                 scheme,
		Logger:                 log,
		Cache:                  cacheOpts,
		Metrics:                metricsserver.Options{BindAddress: runArgs.metricsAddr},
		HealthProbeBindAddress: runArgs.healthAddr,
		LeaderElection:         runArgs.leaderElection,
		LeaderElectionID:       fmt.Sprintf("%s.%s", controllerName, apiv1.GroupVersion.Group),
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return err
	}

	rm, err := runtime.NewResourceManager(mgr.GetConfig(), mgr.GetRESTMapper())
	if err != nil {
		return err
	}

	reconciler := &controller.KclInstanceReconciler{
		Client:        mgr.GetClient(),
		EventRecorder: mgr.GetEventRecorderFor(controllerName),
		Watcher:       source.NewWatcher(mgr.GetClient()),
		Resolver:      arguments.NewResolver(mgr.GetAPIReader()),
		Fetcher: fetcher.New(fetcher.Options{
			StorageDir: runArgs.storageDir,
			SourceHost: runArgs.sourceHost,
			Retries:    runArgs.httpRetry,
		}),
		Renderer: renderer,
		NewWriter: func(obj *apiv1.KclInstance, timeout time.Duration) apply.Writer {
			return runtime.NewResourceWriter(rm, obj.GetName(), obj.GetNamespace(), obj.Spec.Force, timeout)
		},
		Metrics:     metrics.NewRecorder().MustRegister(ctrlmetrics.Registry),
		MaxTimeout:  runArgs.maxTimeout,
		ColorizeLog: rootArgs.coloredLog && rootArgs.logFormat.String() == logger.FormatConsole,
	}

	ctx := ctrl.SetupSignalHandler()
	if err := reconciler.SetupWithManager(ctx, mgr, controller.Options{
		MaxConcurrentReconciles: runArgs.concurrent,
		MinRetryDelay:           runArgs.minRetryDelay,
		MaxRetryDelay:           runArgs.maxRetryDelay,
		WatchSources:            runArgs.watchSources,
	}); err != nil {
		return fmt.Errorf("unable to create controller: %w", err)
	}

	log.Info("starting manager", "version", VERSION, "concurrent", runArgs.concurrent, "storage", runArgs.storageDir)
	return mgr.Start(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
