// Copyright (c) 2014 - The Event Horizon authors.
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

// Package eventdispatch is the asynchronous event dispatching core of a
// CQRS/ES toolkit.
//
// Events (or any other tasks) are handed to a dispatcher that runs related
// tasks strictly in order and unrelated tasks in parallel. Which tasks are
// related is decided by a SequencingPolicy, what happens on failures by a
// RetryPolicy and the transactional boundary around each batch of tasks by a
// TransactionManager. The dispatcher itself lives in the dispatch package.
package eventdispatch
