// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics wraps prometheus collectors into named groups which can
// be enabled at runtime. Collectors which are expensive to collect, for
// instance because they read firmware tables, can be polled periodically
// instead of being collected on every scrape.
//
//	r := metrics.NewRegistry()
//	r.Register("pools", collector, metrics.WithGroup("nvm"), metrics.WithPolled())
//	g, err := r.NewGatherer(metrics.WithNamespace("nvm_capacity"),
//	    metrics.WithMetrics([]string{"*"}, nil))
//	...
//	http.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
