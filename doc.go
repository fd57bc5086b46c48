// Package tribunal holds the shared data model of the evaluation engine:
// goals and their criteria and constraints, step results, judgments, human
// decisions and the capability interfaces (Worker, Planner, ModelJudge) that
// the reflexion controller and the triangulated evaluator depend on.
package tribunal
