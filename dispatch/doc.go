// Copyright (c) 2026 - The Event Horizon authors.
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

// Package dispatch runs tasks asynchronously on an executor while keeping
// related tasks in order.
//
// A Dispatcher asks its sequencing policy for the sequence identifier of each
// scheduled task. Tasks without an identifier go to a queue shared by all
// unordered work and are handled with as much parallelism as the executor
// allows. Tasks with an identifier go to the scheduler owning that
// identifier, which is created on demand, handles its queue in batches under
// one transaction per batch and removes itself once the queue is empty. Only
// one drain turn of a scheduler is ever running, which is what keeps the tasks
// of one identifier in order.
//
// Failures are resolved by the configured retry policy and reported on the
// Errors channel, they are never returned to the code that scheduled the
// task.
package dispatch
