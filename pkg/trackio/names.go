// Copyright 2026 The Trackio Authors
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

package trackio

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var adjectives = []string{
	"amber", "ancient", "autumn", "billowing", "bitter", "bold", "brave",
	"broken", "calm", "cool", "crimson", "curly", "damp", "dark", "dawn",
	"delicate", "divine", "dry", "empty", "falling", "fancy", "flat",
	"floral", "fragrant", "frosty", "gentle", "green", "hidden", "holy",
	"icy", "jolly", "late", "lingering", "little", "lively", "long",
	"lucky", "misty", "morning", "muddy", "mute", "nameless", "noisy",
	"odd", "old", "orange", "patient", "plain", "polished", "proud",
	"purple", "quiet", "rapid", "raspy", "red", "restless", "rough",
	"round", "royal", "shiny", "shrill", "shy", "silent", "small",
	"snowy", "soft", "solitary", "sparkling", "spring", "square",
	"steep", "still", "summer", "super", "sweet", "throbbing", "tight",
	"tiny", "twilight", "wandering", "weathered", "white", "wild",
	"winter", "wispy", "withered", "yellow", "young",
}

var nouns = []string{
	"art", "band", "bar", "base", "bird", "block", "boat", "bonus",
	"breeze", "brook", "bush", "butterfly", "cake", "cell", "cherry",
	"cloud", "credit", "darkness", "dawn", "dew", "disk", "dream",
	"dust", "feather", "field", "fire", "firefly", "flower", "fog",
	"forest", "frog", "frost", "glade", "glitter", "grass", "hall",
	"hat", "haze", "heart", "hill", "king", "lab", "lake", "leaf",
	"limit", "math", "meadow", "mode", "moon", "morning", "mountain",
	"mouse", "mud", "night", "paper", "pine", "poetry", "pond",
	"queen", "rain", "recipe", "resonance", "rice", "river", "salad",
	"scene", "sea", "shadow", "shape", "silence", "sky", "smoke",
	"snow", "snowflake", "sound", "star", "sun", "sunset", "surf",
	"term", "thunder", "tooth", "tree", "truth", "union", "unit",
	"violet", "voice", "water", "waterfall", "wave", "wildflower",
	"wind", "wood",
}

// nameCounters tracks the per-process counter for every (project, base)
// pair, so repeated inits in one process yield swift-falcon-1,
// swift-falcon-2 and so on.
var (
	nameMu       sync.Mutex
	nameCounters = make(map[string]int)
	nameRand     = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// generateName produces an <adjective>-<noun>-<counter> run name.
func generateName(project string) string {
	nameMu.Lock()
	defer nameMu.Unlock()

	base := adjectives[nameRand.Intn(len(adjectives))] + "-" + nouns[nameRand.Intn(len(nouns))]
	key := project + "\x00" + base
	nameCounters[key]++
	return fmt.Sprintf("%s-%d", base, nameCounters[key])
}

// hostedName is the run identity form used when the hosted platform
// supplies a user name.
func hostedName(user string) string {
	return fmt.Sprintf("%s-%d", user, time.Now().Unix())
}
