/*
Package domain contains the core domain models and error taxonomy for the
checkloop pipeline.

It defines the entities shared across the session manager, the validation
engine, and the retry orchestrator. This package is kept pure and free of
I/O or transport concerns.

# Key Entities

  - Session: A reasoning-engine session snapshot (id plus last message).
  - RunResult: The terminal outcome of one validated task run.
  - ModelInfo: One entry of the flattened provider/model catalog.
  - ValidationExhaustedError: The retry loop's terminal failure, carrying
    the attempt count and the last script feedback verbatim.
*/
package domain
